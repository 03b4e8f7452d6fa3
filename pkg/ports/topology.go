package ports

import "github.com/aretw0/tillflow/pkg/domain"

// TopologyProvider answers relationship queries between devices.
// Unknown devices have empty relations.
type TopologyProvider interface {
	Relations(deviceID string) domain.Relations
}

// TopologyFunc adapts a function to the TopologyProvider interface.
type TopologyFunc func(deviceID string) domain.Relations

// Relations implements TopologyProvider.
func (f TopologyFunc) Relations(deviceID string) domain.Relations {
	return f(deviceID)
}
