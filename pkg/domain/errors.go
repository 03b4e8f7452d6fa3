package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConversationNotFound is returned when no live conversation exists for a device.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrConversationExists is returned by Begin when the device already has a live conversation.
	ErrConversationExists = errors.New("conversation already exists")

	// ErrConversationClosed is returned when work is submitted to a conversation that has ended.
	ErrConversationClosed = errors.New("conversation closed")

	// ErrStaleHandle is returned when a transition step handle outlived its transition.
	ErrStaleHandle = errors.New("stale transition handle")

	// ErrSnapshotNotFound is returned when a snapshot store has no record for a device.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrReentrant is returned when a device loop makes a call that would wait on a loop.
	ErrReentrant = errors.New("blocking call from inside a device loop")
)

// ConfigurationKind classifies flow graph build failures.
type ConfigurationKind string

const (
	ConfigUnresolved  ConfigurationKind = "unresolved"
	ConfigConflict    ConfigurationKind = "conflict"
	ConfigAmbiguous   ConfigurationKind = "ambiguous"
	ConfigNoInitial   ConfigurationKind = "no_initial"
	ConfigRecursive   ConfigurationKind = "recursive"
	ConfigUnknownFlow ConfigurationKind = "unknown_flow"
	ConfigInvalid     ConfigurationKind = "invalid"
)

// ConfigurationError is a fatal flow graph build error.
type ConfigurationError struct {
	Kind ConfigurationKind
	Flow string
	Name string

	// Namespaces lists where an unresolved name was searched.
	Namespaces []string

	// Usages describes the conflicting declarations of an ambiguous name.
	Usages []string

	Detail string
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "flow %q: %s", e.Flow, e.Kind)
	if e.Name != "" {
		fmt.Fprintf(&b, " %q", e.Name)
	}
	if len(e.Namespaces) > 0 {
		fmt.Fprintf(&b, " (searched %s)", strings.Join(e.Namespaces, ", "))
	}
	if len(e.Usages) > 0 {
		fmt.Fprintf(&b, " (used as %s)", strings.Join(e.Usages, "; "))
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

// UnhandledActionError is reported when no state, frame or Global mapping handles an action.
type UnhandledActionError struct {
	DeviceID string
	State    string
	Action   string
}

func (e *UnhandledActionError) Error() string {
	return fmt.Sprintf("device %s: action %q is not handled in state %q", e.DeviceID, e.Action, e.State)
}

// LifecycleHookError wraps a failing before-hook that aborted a transition.
type LifecycleHookError struct {
	State  string
	Hook   string
	Action string
	Err    error
}

func (e *LifecycleHookError) Error() string {
	return fmt.Sprintf("before hook %q of state %q failed on %q: %v", e.Hook, e.State, e.Action, e.Err)
}

func (e *LifecycleHookError) Unwrap() error { return e.Err }

// TransitionStepError wraps a failure raised by a transition step.
type TransitionStepError struct {
	Step  string
	State string
	Err   error
}

func (e *TransitionStepError) Error() string {
	return fmt.Sprintf("transition step %q towards %q failed: %v", e.Step, e.State, e.Err)
}

func (e *TransitionStepError) Unwrap() error { return e.Err }

// ActionRejectedError is reported when a pending transition receives an action its
// stalled step does not accept.
type ActionRejectedError struct {
	DeviceID string
	Step     string
	Action   string
	Accepts  []string
}

func (e *ActionRejectedError) Error() string {
	return fmt.Sprintf("device %s: action %q rejected while step %q is pending (accepts %s)",
		e.DeviceID, e.Action, e.Step, strings.Join(e.Accepts, ", "))
}

// PanicError is a recovered panic from a state, hook, step or handler.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// ErrorKind returns a short, low-cardinality label for err.
func ErrorKind(err error) string {
	var (
		cfg       *ConfigurationError
		unhandled *UnhandledActionError
		hook      *LifecycleHookError
		step      *TransitionStepError
		rejected  *ActionRejectedError
		panicked  *PanicError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &panicked):
		return "panic"
	case errors.As(err, &cfg):
		return "configuration"
	case errors.As(err, &unhandled):
		return "unhandled"
	case errors.As(err, &hook):
		return "hook"
	case errors.As(err, &step):
		return "step"
	case errors.As(err, &rejected):
		return "rejected"
	case errors.Is(err, ErrStaleHandle):
		return "stale"
	case errors.Is(err, ErrConversationClosed):
		return "closed"
	case errors.Is(err, ErrReentrant):
		return "reentrant"
	}
	return "state"
}
