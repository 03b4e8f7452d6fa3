package domain

import "sort"

// TargetKind discriminates the variants of Target.
type TargetKind int

const (
	// TargetState moves to a state of the same flow.
	TargetState TargetKind = iota + 1
	// TargetSubflow pushes a frame and enters an embedded flow.
	TargetSubflow
	// TargetReturn is the synthetic terminal marker: it pops the innermost frame
	// and resumes the parent flow at the target bound to ReturnAction.
	TargetReturn
)

func (k TargetKind) String() string {
	switch k {
	case TargetState:
		return "state"
	case TargetSubflow:
		return "subflow"
	case TargetReturn:
		return "return"
	}
	return "unknown"
}

// Target is the resolved destination of an action.
type Target struct {
	Kind         TargetKind
	State        *StateDescriptor
	Subflow      *SubflowDescriptor
	ReturnAction string
}

// Name returns a human readable name of the destination.
func (t Target) Name() string {
	switch t.Kind {
	case TargetState:
		if t.State != nil {
			return t.State.Name
		}
	case TargetSubflow:
		if t.Subflow != nil {
			return t.Subflow.Name
		}
	case TargetReturn:
		return "return:" + t.ReturnAction
	}
	return ""
}

// StateDescriptor is one named state of a flow.
type StateDescriptor struct {
	Name string
	// Flow is the name of the owning flow.
	Flow string
	// Impl is the registry id the behavior was resolved from.
	Impl    string
	Factory StateFactory

	Actions  map[string]Target
	Hooks    []BeforeHook
	Handlers []Registration

	// Placeholder is set for states reached only by reference.
	Placeholder bool
}

// Materialize builds a fresh behavior instance.
func (s *StateDescriptor) Materialize() State {
	if s.Factory == nil {
		return nil
	}
	return s.Factory()
}

// ActionNames returns the names of the actions the state handles, sorted.
func (s *StateDescriptor) ActionNames() []string {
	return sortedKeys(s.Actions)
}

// SubflowDescriptor embeds a flow as the target of a transition.
type SubflowDescriptor struct {
	Name string
	Flow *FlowDefinition

	// Returns maps each return action to its target in the parent flow.
	Returns map[string]Target

	// Seed is copied into the subflow's flow scope on entry.
	Seed map[string]any

	// Propagate lists flow-scope keys copied back into the parent scope on return.
	Propagate []string

	// Wrapped is set when the subflow is a single state promoted to a one-state flow.
	Wrapped bool
}

// ReturnActions returns the declared return action names, sorted.
func (s *SubflowDescriptor) ReturnActions() []string {
	return sortedKeys(s.Returns)
}

// FlowDefinition is a compiled, validated graph of states.
type FlowDefinition struct {
	Name    string
	Initial *StateDescriptor
	States  map[string]*StateDescriptor

	// Global holds flow-wide action mappings, consulted only when the active
	// state does not handle an action itself.
	Global         map[string]Target
	GlobalHandlers []Registration

	// Order lists state names in discovery order.
	Order []string
}

// State looks up a state by name.
func (f *FlowDefinition) State(name string) (*StateDescriptor, bool) {
	s, ok := f.States[name]
	return s, ok
}

// Walk visits the flow and every flow reachable from it, each exactly once.
func (f *FlowDefinition) Walk(fn func(*FlowDefinition)) {
	seen := make(map[*FlowDefinition]bool)
	var visit func(*FlowDefinition)
	var follow func(Target)
	follow = func(t Target) {
		if t.Kind != TargetSubflow || t.Subflow == nil {
			return
		}
		visit(t.Subflow.Flow)
		for _, action := range t.Subflow.ReturnActions() {
			follow(t.Subflow.Returns[action])
		}
	}
	visit = func(flow *FlowDefinition) {
		if flow == nil || seen[flow] {
			return
		}
		seen[flow] = true
		fn(flow)
		for _, name := range flow.Order {
			st := flow.States[name]
			for _, action := range st.ActionNames() {
				follow(st.Actions[action])
			}
		}
		for _, key := range sortedKeys(flow.Global) {
			follow(flow.Global[key])
		}
	}
	visit(f)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
