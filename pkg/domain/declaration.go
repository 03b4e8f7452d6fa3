package domain

// Declaration is one entry of an already-parsed flow source.
// A concrete declaration carries an action map; a bare reference only names a
// state that other declarations target.
type Declaration struct {
	Name     string
	Concrete bool

	// Impl is the registry id of the behavior. Defaults to Name.
	Impl string

	Actions  []ActionDecl
	Hooks    []BeforeHook
	Handlers []Registration
}

// ImplID returns the effective registry id.
func (d Declaration) ImplID() string {
	if d.Impl != "" {
		return d.Impl
	}
	return d.Name
}

// IsGlobal reports whether the declaration is the Global pseudo-state.
func (d Declaration) IsGlobal() bool {
	return d.Name == GlobalStateName
}

// ActionDecl maps an action name to a target reference.
type ActionDecl struct {
	Action string
	Target TargetRef
}

// TargetRef is an unresolved action target.
type TargetRef struct {
	Name string `json:"name"`

	// Subflow marks the reference as a subflow transition. Name then refers to a
	// flow of the source or to a single state wrapped as a one-state flow.
	Subflow bool `json:"subflow,omitempty"`

	// Returns maps return actions raised inside the subflow to targets in the parent flow.
	// A return target may itself be a subflow.
	Returns map[string]TargetRef `json:"returns,omitempty"`

	Seed      map[string]any `json:"seed,omitempty"`
	Propagate []string       `json:"propagate,omitempty"`
}
