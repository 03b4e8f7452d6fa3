package dsl

import (
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/aretw0/tillflow/pkg/domain"
)

// Resolver binds registry ids to behavior factories.
// *registry.Registry implements it.
type Resolver interface {
	Resolve(id string) (domain.StateFactory, bool)
}

const namespaceRegistry = "state registry"

// Compile builds the validated definition of the named flow.
// Embedded flows are built once per call; nothing is cached across calls.
// Every problem found is reported, joined into one error.
//
// A state declared concretely more than once must repeat the same definition.
// Functions cannot be compared, so hooks and handlers are matched by name,
// action filter and sources only: redefinitions that differ just in a hook's
// Run or a handler's Handle are tolerated, and the first declaration's
// functions are kept.
func Compile(src Source, flow string, reg Resolver) (*domain.FlowDefinition, error) {
	if reg == nil {
		return nil, fmt.Errorf("compile flow %q: nil resolver", flow)
	}
	c := &compiler{
		src:      src,
		reg:      reg,
		built:    make(map[string]*domain.FlowDefinition),
		building: make(map[string]bool),
	}
	def := c.flow(flow, "")
	if err := errors.Join(c.errs...); err != nil {
		return nil, err
	}
	return def, nil
}

type compiler struct {
	src      Source
	reg      Resolver
	built    map[string]*domain.FlowDefinition
	building map[string]bool
	errs     []error
}

func (c *compiler) fail(err *domain.ConfigurationError) {
	c.errs = append(c.errs, err)
}

// flowBuild holds the per-flow working state.
type flowBuild struct {
	def      *domain.FlowDefinition
	concrete map[string]domain.Declaration
	refs     map[string]domain.Declaration
	failed   map[string]bool
}

func (c *compiler) flow(name, embeddedBy string) *domain.FlowDefinition {
	if c.building[name] {
		c.fail(&domain.ConfigurationError{
			Kind:   domain.ConfigRecursive,
			Flow:   embeddedBy,
			Name:   name,
			Detail: "flow embeds itself",
		})
		return nil
	}
	if def, ok := c.built[name]; ok {
		return def
	}
	decls, ok := c.src[name]
	if !ok {
		c.fail(&domain.ConfigurationError{
			Kind:       domain.ConfigUnknownFlow,
			Flow:       embeddedBy,
			Name:       name,
			Namespaces: []string{"flows"},
		})
		return nil
	}

	c.building[name] = true
	defer delete(c.building, name)

	fb := &flowBuild{
		def: &domain.FlowDefinition{
			Name:   name,
			States: make(map[string]*domain.StateDescriptor),
			Global: make(map[string]domain.Target),
		},
		concrete: make(map[string]domain.Declaration),
		refs:     make(map[string]domain.Declaration),
		failed:   make(map[string]bool),
	}
	defer func() { c.built[name] = fb.def }()

	var ordered []domain.Declaration
	for _, d := range decls {
		if !d.Concrete {
			if _, ok := fb.refs[d.Name]; !ok {
				fb.refs[d.Name] = d
			}
			continue
		}
		prev, seen := fb.concrete[d.Name]
		if !seen {
			fb.concrete[d.Name] = d
			ordered = append(ordered, d)
			continue
		}
		if !reflect.DeepEqual(canonical(prev), canonical(d)) {
			c.fail(&domain.ConfigurationError{
				Kind:   domain.ConfigConflict,
				Flow:   name,
				Name:   d.Name,
				Detail: "declared twice with different definitions",
			})
		}
	}

	for _, d := range ordered {
		if d.IsGlobal() {
			continue
		}
		st := c.declare(fb, d, false)
		if fb.def.Initial == nil {
			fb.def.Initial = st
		}
	}
	if fb.def.Initial == nil {
		c.fail(&domain.ConfigurationError{
			Kind:   domain.ConfigNoInitial,
			Flow:   name,
			Detail: "no concrete state declared",
		})
	}

	for _, d := range ordered {
		if d.IsGlobal() {
			c.checkDuplicateActions(name, d)
			for _, a := range d.Actions {
				if t, ok := c.target(fb, d.Name, a); ok {
					fb.def.Global[a.Action] = t
				}
			}
			fb.def.GlobalHandlers = append(fb.def.GlobalHandlers, d.Handlers...)
			continue
		}
		c.link(fb, fb.def.States[d.Name], d)
	}

	// references nobody targets still become placeholders
	for _, d := range decls {
		if !d.Concrete && !d.IsGlobal() {
			c.state(fb, d.Name)
		}
	}
	return fb.def
}

// declare registers the descriptor of a concrete declaration without linking its actions.
func (c *compiler) declare(fb *flowBuild, d domain.Declaration, placeholder bool) *domain.StateDescriptor {
	st := &domain.StateDescriptor{
		Name:        d.Name,
		Flow:        fb.def.Name,
		Impl:        d.ImplID(),
		Actions:     make(map[string]domain.Target),
		Hooks:       append([]domain.BeforeHook(nil), d.Hooks...),
		Handlers:    append([]domain.Registration(nil), d.Handlers...),
		Placeholder: placeholder,
	}
	factory, ok := c.reg.Resolve(st.Impl)
	if !ok {
		if !fb.failed[d.Name] {
			fb.failed[d.Name] = true
			c.fail(&domain.ConfigurationError{
				Kind:       domain.ConfigUnresolved,
				Flow:       fb.def.Name,
				Name:       st.Impl,
				Namespaces: []string{namespaceRegistry},
				Detail:     fmt.Sprintf("no behavior for state %q", d.Name),
			})
		}
	}
	st.Factory = factory
	fb.def.States[d.Name] = st
	fb.def.Order = append(fb.def.Order, d.Name)
	return st
}

func (c *compiler) link(fb *flowBuild, st *domain.StateDescriptor, d domain.Declaration) {
	c.checkDuplicateActions(fb.def.Name, d)
	for _, a := range d.Actions {
		if t, ok := c.target(fb, d.Name, a); ok {
			st.Actions[a.Action] = t
		}
	}
}

func (c *compiler) checkDuplicateActions(flow string, d domain.Declaration) {
	seen := make(map[string]bool, len(d.Actions))
	for _, a := range d.Actions {
		if seen[a.Action] {
			c.fail(&domain.ConfigurationError{
				Kind:   domain.ConfigInvalid,
				Flow:   flow,
				Name:   d.Name,
				Detail: fmt.Sprintf("action %q mapped twice", a.Action),
			})
		}
		seen[a.Action] = true
	}
}

// state returns the descriptor for a direct target, materializing a placeholder
// for names that have no concrete declaration.
func (c *compiler) state(fb *flowBuild, name string) (*domain.StateDescriptor, bool) {
	if st, ok := fb.def.States[name]; ok {
		return st, st.Factory != nil
	}
	if name == domain.GlobalStateName {
		c.fail(&domain.ConfigurationError{
			Kind:   domain.ConfigInvalid,
			Flow:   fb.def.Name,
			Name:   name,
			Detail: "Global is not a transition target",
		})
		return nil, false
	}
	d, ok := fb.refs[name]
	if !ok {
		d = domain.Declaration{Name: name}
	}
	st := c.declare(fb, d, true)
	return st, st.Factory != nil
}

func (c *compiler) target(fb *flowBuild, owner string, a domain.ActionDecl) (domain.Target, bool) {
	if !a.Target.Subflow {
		st, ok := c.state(fb, a.Target.Name)
		if !ok {
			return domain.Target{}, false
		}
		return domain.Target{Kind: domain.TargetState, State: st}, true
	}
	sub, ok := c.subflow(fb, owner, a)
	if !ok {
		return domain.Target{}, false
	}
	return domain.Target{Kind: domain.TargetSubflow, Subflow: sub}, true
}

func (c *compiler) subflow(fb *flowBuild, owner string, a domain.ActionDecl) (*domain.SubflowDescriptor, bool) {
	ref := a.Target
	sub := &domain.SubflowDescriptor{
		Name:      ref.Name,
		Returns:   make(map[string]domain.Target),
		Seed:      ref.Seed,
		Propagate: append([]string(nil), ref.Propagate...),
	}

	ok := true
	if _, isFlow := c.src[ref.Name]; isFlow {
		sub.Flow = c.flow(ref.Name, fb.def.Name)
		ok = sub.Flow != nil
	} else if wrapped, wok := c.wrap(fb, owner, a); wok {
		sub.Flow = wrapped
		sub.Wrapped = true
	} else {
		ok = false
	}

	// return targets live in the parent flow
	for _, action := range sortedRefKeys(ref.Returns) {
		t, tok := c.target(fb, owner, domain.ActionDecl{Action: action, Target: ref.Returns[action]})
		if !tok {
			ok = false
			continue
		}
		sub.Returns[action] = t
	}
	return sub, ok
}

// wrap promotes a single state into a one-state flow that leaves through the
// return actions of the reference.
func (c *compiler) wrap(fb *flowBuild, owner string, a domain.ActionDecl) (*domain.FlowDefinition, bool) {
	name := a.Target.Name
	d, concrete := fb.concrete[name]
	if concrete && len(d.Actions) > 0 {
		c.fail(&domain.ConfigurationError{
			Kind: domain.ConfigAmbiguous,
			Flow: fb.def.Name,
			Name: name,
			Usages: []string{
				fmt.Sprintf("inline subflow target of %s.%s", owner, a.Action),
				fmt.Sprintf("concrete state with actions %v", actionNames(d)),
			},
		})
		return nil, false
	}
	if !concrete {
		if ref, ok := fb.refs[name]; ok {
			d = ref
		} else {
			d = domain.Declaration{Name: name}
		}
	}

	factory, ok := c.reg.Resolve(d.ImplID())
	if !ok {
		c.fail(&domain.ConfigurationError{
			Kind:       domain.ConfigUnresolved,
			Flow:       fb.def.Name,
			Name:       name,
			Namespaces: []string{"flows", fmt.Sprintf("states of %s", fb.def.Name), namespaceRegistry},
			Detail:     fmt.Sprintf("subflow target of %s.%s", owner, a.Action),
		})
		return nil, false
	}
	if len(a.Target.Returns) == 0 {
		c.fail(&domain.ConfigurationError{
			Kind:   domain.ConfigInvalid,
			Flow:   fb.def.Name,
			Name:   name,
			Detail: "a state wrapped as a subflow needs at least one return action",
		})
		return nil, false
	}

	flowName := fb.def.Name + ":" + name
	st := &domain.StateDescriptor{
		Name:     name,
		Flow:     flowName,
		Impl:     d.ImplID(),
		Factory:  factory,
		Actions:  make(map[string]domain.Target, len(a.Target.Returns)),
		Hooks:    append([]domain.BeforeHook(nil), d.Hooks...),
		Handlers: append([]domain.Registration(nil), d.Handlers...),
	}
	for action := range a.Target.Returns {
		st.Actions[action] = domain.Target{Kind: domain.TargetReturn, ReturnAction: action}
	}
	return &domain.FlowDefinition{
		Name:    flowName,
		Initial: st,
		States:  map[string]*domain.StateDescriptor{name: st},
		Global:  map[string]domain.Target{},
		Order:   []string{name},
	}, true
}

type canonicalHook struct {
	Name            string
	Actions         []string
	ContinueOnError bool
}

type canonicalHandler struct {
	Name    string
	Sources []domain.Source
	Types   []reflect.Type
	Arg     reflect.Type
}

type canonicalDecl struct {
	Impl     string
	Actions  map[string]domain.TargetRef
	Hooks    []canonicalHook
	Handlers []canonicalHandler
}

// canonical drops function values so two declarations can be compared structurally.
func canonical(d domain.Declaration) canonicalDecl {
	out := canonicalDecl{Impl: d.ImplID(), Actions: make(map[string]domain.TargetRef, len(d.Actions))}
	for _, a := range d.Actions {
		out.Actions[a.Action] = a.Target
	}
	for _, h := range d.Hooks {
		out.Hooks = append(out.Hooks, canonicalHook{Name: h.Name, Actions: h.Actions, ContinueOnError: h.ContinueOnError})
	}
	for _, r := range d.Handlers {
		out.Handlers = append(out.Handlers, canonicalHandler{Name: r.Name, Sources: r.Sources, Types: r.Types, Arg: r.Arg})
	}
	return out
}

func actionNames(d domain.Declaration) []string {
	names := make([]string, 0, len(d.Actions))
	for _, a := range d.Actions {
		names = append(names, a.Action)
	}
	sort.Strings(names)
	return names
}

func sortedRefKeys(m map[string]domain.TargetRef) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
