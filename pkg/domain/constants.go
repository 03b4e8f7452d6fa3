package domain

const (
	// GlobalStateName is the pseudo-state whose actions and event handlers apply to every state of a flow.
	GlobalStateName = "Global"

	// AllActions matches every action name in a BeforeHook action list.
	AllActions = "*"

	// BeginAction is the trigger action that enters a flow's initial state when a conversation begins.
	BeginAction = "Begin"
)
