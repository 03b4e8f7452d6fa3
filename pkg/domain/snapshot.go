package domain

import "time"

// Status describes where a conversation stands between actions.
type Status string

const (
	StatusStarting Status = "starting" // No state entered yet
	StatusAtRest   Status = "at_rest"  // A state is active and its screen was presented
	StatusPending  Status = "pending"  // A transition step stalled the arrival
)

// Snapshot is a serializable view of one conversation.
type Snapshot struct {
	DeviceID    string         `json:"device_id"`
	Flows       []string       `json:"flows"`
	State       string         `json:"state,omitempty"`
	Status      Status         `json:"status"`
	PendingStep string         `json:"pending_step,omitempty"`
	PendingTo   string         `json:"pending_to,omitempty"`
	Accepts     []string       `json:"accepts,omitempty"`

	// PendingFlows is the flow path the stalled arrival will land in. Flows
	// keeps describing the active state until the arrival completes.
	PendingFlows []string `json:"pending_flows,omitempty"`

	LastAction string         `json:"last_action,omitempty"`
	Scope      map[string]any `json:"scope,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Depth returns the number of subflow frames above the root flow.
func (s *Snapshot) Depth() int {
	if len(s.Flows) == 0 {
		return 0
	}
	return len(s.Flows) - 1
}
