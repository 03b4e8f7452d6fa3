package domain

import (
	"context"

	"github.com/aretw0/tillflow/pkg/scope"
)

// Conversation is the view of a device session handed to states, hooks and event handlers.
// All methods are safe to call from within the device's processing loop.
type Conversation interface {
	Receiver

	// Scope returns the device's scope store.
	Scope() *scope.Store

	// Raise queues a follow-up action behind the one currently being processed.
	Raise(name string, payload any) error

	// Publish fans an event out to related devices without waiting for delivery.
	Publish(event any) error
}

// State is the behavior behind a StateDescriptor.
// A fresh instance is materialized on every visit, so instances must not rely on
// identity across transitions; shared data belongs in the scope store.
type State interface {
	// Enter runs the arrival logic and returns the screen to present.
	Enter(ctx context.Context, conv Conversation, trigger Action) (Screen, error)
}

// Leaver is implemented by states that need to observe being replaced.
type Leaver interface {
	Leave(ctx context.Context, conv Conversation) error
}

// StateFunc adapts a plain function to the State interface.
type StateFunc func(ctx context.Context, conv Conversation, trigger Action) (Screen, error)

// Enter implements State.
func (f StateFunc) Enter(ctx context.Context, conv Conversation, trigger Action) (Screen, error) {
	return f(ctx, conv, trigger)
}

// StateFactory materializes a new State instance.
type StateFactory func() State

// BeforeHook runs before the primary arrival logic of the state it is declared on.
type BeforeHook struct {
	// Name identifies the hook in logs and errors.
	Name string

	// Actions restricts the hook to the listed action names.
	// Empty, or containing AllActions, means every action.
	Actions []string

	// ContinueOnError swallows a failure of this hook and keeps running the chain.
	// By default a failing hook aborts the chain and the transition.
	ContinueOnError bool

	Run func(ctx context.Context, conv Conversation, trigger Action) error
}

// AppliesTo reports whether the hook is declared for the given action.
func (h BeforeHook) AppliesTo(action string) bool {
	if len(h.Actions) == 0 {
		return true
	}
	for _, a := range h.Actions {
		if a == action || a == AllActions {
			return true
		}
	}
	return false
}
