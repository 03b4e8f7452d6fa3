package domain

import "time"

// Action is a named event submitted into a conversation.
type Action struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Payload  any       `json:"payload,omitempty"`
	Received time.Time `json:"received"`
}

// Screen is the opaque value handed to the presenter whenever a state becomes active.
// The engine defines no schema for it.
type Screen = any

// RecoveryScreen is presented by the default error handler so that a failed action
// always leaves something on the device the operator can act on.
type RecoveryScreen struct {
	State   string `json:"state"`
	Action  string `json:"action,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}
