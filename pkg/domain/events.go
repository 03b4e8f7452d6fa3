package domain

import (
	"context"
	"time"
)

// EventType defines the category of a lifecycle event.
type EventType string

const (
	EventConversationBegin EventType = "conversation_begin"
	EventConversationEnd   EventType = "conversation_end"
	EventStateEnter        EventType = "state_enter"
	EventStateLeave        EventType = "state_leave"
	EventActionError       EventType = "action_error"
	EventStall             EventType = "stall"
	EventResume            EventType = "resume"
)

// EventBase contains common fields for all lifecycle events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	DeviceID  string    `json:"device_id"`
}

// StateEvent represents entry or exit from a state.
type StateEvent struct {
	EventBase
	Flow   string `json:"flow"`
	State  string `json:"state"`
	Action string `json:"action,omitempty"`
	Depth  int    `json:"depth"`
}

// ErrorEvent reports an error handed to the conversation's error handler.
type ErrorEvent struct {
	EventBase
	State  string `json:"state,omitempty"`
	Action string `json:"action,omitempty"`
	Kind   string `json:"kind"`
	Err    error  `json:"-"`
}

// StallEvent reports a transition step stalling or resuming a transition.
type StallEvent struct {
	EventBase
	Step    string   `json:"step"`
	Target  string   `json:"target"`
	Accepts []string `json:"accepts,omitempty"`
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnConversationBegin func(context.Context, *EventBase)
	OnConversationEnd   func(context.Context, *EventBase)
	OnStateEnter        func(context.Context, *StateEvent)
	OnStateLeave        func(context.Context, *StateEvent)
	OnActionError       func(context.Context, *ErrorEvent)
	OnStall             func(context.Context, *StallEvent)
	OnResume            func(context.Context, *StallEvent)
}
