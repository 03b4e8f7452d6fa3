package dsl

import (
	"context"
	"sort"

	"github.com/aretw0/tillflow/pkg/domain"
)

// Source maps flow names to their ordered declarations.
type Source map[string][]domain.Declaration

// Flows returns the flow names of the source, sorted.
func (s Source) Flows() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builder manages the construction of a Source.
type Builder struct {
	flows map[string]*FlowBuilder
}

// New creates a new flow builder.
func New() *Builder {
	return &Builder{
		flows: make(map[string]*FlowBuilder),
	}
}

// Flow returns the builder of the named flow, creating it on first use.
func (b *Builder) Flow(name string) *FlowBuilder {
	if fb, ok := b.flows[name]; ok {
		return fb
	}
	fb := &FlowBuilder{name: name}
	b.flows[name] = fb
	return fb
}

// Source returns the declarations collected so far.
func (b *Builder) Source() Source {
	src := make(Source, len(b.flows))
	for name, fb := range b.flows {
		src[name] = fb.Declarations()
	}
	return src
}

// FlowBuilder collects the ordered declarations of one flow.
type FlowBuilder struct {
	name   string
	states []*StateBuilder
}

// Name returns the flow name.
func (f *FlowBuilder) Name() string { return f.name }

// State appends a concrete declaration. Calling it twice with the same name
// declares the state twice; the compiler accepts that only when both
// declarations are identical.
func (f *FlowBuilder) State(name string) *StateBuilder {
	sb := &StateBuilder{decl: domain.Declaration{Name: name, Concrete: true}}
	f.states = append(f.states, sb)
	return sb
}

// Ref appends a bare reference, optionally bound to a registry id.
func (f *FlowBuilder) Ref(name string, impl ...string) *FlowBuilder {
	d := domain.Declaration{Name: name}
	if len(impl) > 0 {
		d.Impl = impl[0]
	}
	f.states = append(f.states, &StateBuilder{decl: d})
	return f
}

// Global appends the flow-wide pseudo-state declaration.
func (f *FlowBuilder) Global() *StateBuilder {
	return f.State(domain.GlobalStateName)
}

// Declarations returns a copy of the declarations in order.
func (f *FlowBuilder) Declarations() []domain.Declaration {
	out := make([]domain.Declaration, 0, len(f.states))
	for _, sb := range f.states {
		out = append(out, sb.Build())
	}
	return out
}

// StateBuilder provides a fluent API for configuring a declaration.
type StateBuilder struct {
	decl domain.Declaration
}

// Impl binds the declaration to a registry id other than its name.
func (s *StateBuilder) Impl(id string) *StateBuilder {
	s.decl.Impl = id
	return s
}

// On maps an action to a state of the same flow.
func (s *StateBuilder) On(action, target string) *StateBuilder {
	s.decl.Actions = append(s.decl.Actions, domain.ActionDecl{
		Action: action,
		Target: domain.TargetRef{Name: target},
	})
	return s
}

// Sub maps an action to a subflow: a flow of the source, or a single state wrapped
// as a one-state flow.
func (s *StateBuilder) Sub(action, target string, opts ...SubOption) *StateBuilder {
	s.decl.Actions = append(s.decl.Actions, domain.ActionDecl{
		Action: action,
		Target: SubRef(target, opts...),
	})
	return s
}

// Before appends a before-hook.
func (s *StateBuilder) Before(name string, run func(ctx context.Context, conv domain.Conversation, trigger domain.Action) error, opts ...HookOption) *StateBuilder {
	h := domain.BeforeHook{Name: name, Run: run}
	for _, opt := range opts {
		opt(&h)
	}
	s.decl.Hooks = append(s.decl.Hooks, h)
	return s
}

// Handle appends explicit event handler registrations.
func (s *StateBuilder) Handle(regs ...domain.Registration) *StateBuilder {
	s.decl.Handlers = append(s.decl.Handlers, regs...)
	return s
}

// Build returns the underlying declaration.
func (s *StateBuilder) Build() domain.Declaration {
	d := s.decl
	d.Actions = append([]domain.ActionDecl(nil), s.decl.Actions...)
	d.Hooks = append([]domain.BeforeHook(nil), s.decl.Hooks...)
	d.Handlers = append([]domain.Registration(nil), s.decl.Handlers...)
	return d
}

// SubOption configures a subflow target.
type SubOption func(*domain.TargetRef)

// SubRef builds a subflow target reference.
func SubRef(name string, opts ...SubOption) domain.TargetRef {
	ref := domain.TargetRef{Name: name, Subflow: true}
	for _, opt := range opts {
		opt(&ref)
	}
	return ref
}

// Return binds a return action of the subflow to a state of the parent flow.
func Return(action, target string) SubOption {
	return ReturnTo(action, domain.TargetRef{Name: target})
}

// ReturnTo binds a return action to an arbitrary parent target, including another subflow.
func ReturnTo(action string, target domain.TargetRef) SubOption {
	return func(r *domain.TargetRef) {
		if r.Returns == nil {
			r.Returns = make(map[string]domain.TargetRef)
		}
		r.Returns[action] = target
	}
}

// Seed copies a value into the subflow's flow scope on entry.
func Seed(key string, value any) SubOption {
	return func(r *domain.TargetRef) {
		if r.Seed == nil {
			r.Seed = make(map[string]any)
		}
		r.Seed[key] = value
	}
}

// Propagate copies flow-scope keys back into the parent flow scope on return.
func Propagate(keys ...string) SubOption {
	return func(r *domain.TargetRef) {
		r.Propagate = append(r.Propagate, keys...)
	}
}

// HookOption configures a before-hook.
type HookOption func(*domain.BeforeHook)

// ForActions restricts a hook to the given action names.
func ForActions(actions ...string) HookOption {
	return func(h *domain.BeforeHook) {
		h.Actions = append(h.Actions, actions...)
	}
}

// ContinueOnError makes a failing hook log and continue instead of aborting.
func ContinueOnError() HookOption {
	return func(h *domain.BeforeHook) {
		h.ContinueOnError = true
	}
}
