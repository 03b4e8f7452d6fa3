package domain

import (
	"context"
	"reflect"
	"time"
)

// Source is the topological relationship between an event's origin and the receiving device.
type Source int

const (
	// SourceSelf means the event originated on the receiving device.
	SourceSelf Source = iota + 1
	// SourceParent means the event originated on the receiver's registered parent.
	SourceParent
	// SourcePaired means the event originated on one of the receiver's paired or child devices.
	SourcePaired
)

func (s Source) String() string {
	switch s {
	case SourceSelf:
		return "SELF"
	case SourceParent:
		return "PARENT"
	case SourcePaired:
		return "PAIRED"
	}
	return "UNKNOWN"
}

// Relations is what the topology provider knows about one device.
type Relations struct {
	Parent string   `json:"parent,omitempty"`
	Paired []string `json:"paired,omitempty"`
}

// Receiver is anything that can be the target of an event delivery.
type Receiver interface {
	DeviceID() string
}

// Envelope carries an event from its source device.
type Envelope struct {
	ID           string    `json:"id"`
	SourceDevice string    `json:"source_device"`
	Event        any       `json:"event"`
	Sent         time.Time `json:"sent"`
}

// Delivery is what a handler receives: the envelope plus the computed relationships.
type Delivery struct {
	Envelope
	Relations []Source
}

// Has reports whether the delivery carries the given relationship.
func (d Delivery) Has(s Source) bool {
	for _, r := range d.Relations {
		if r == s {
			return true
		}
	}
	return false
}

// EventHandler handles one delivered event.
type EventHandler func(ctx context.Context, target Receiver, d Delivery) error

// Registration is an explicit event handler declaration.
type Registration struct {
	Name string

	// Sources lists the relationships the handler listens to. Duplicates are allowed
	// and never cause more than one invocation per event. An empty list never fires.
	Sources []Source

	// Types is the explicit filter: the event's exact concrete type must be listed.
	Types []reflect.Type

	// Arg is the implicit filter used when Types is empty: the event must be of this
	// type, implement it, or embed it. Nil matches every event.
	Arg reflect.Type

	Handle EventHandler
}

// ExternalEvent is the generic event shape used by transport adapters that cannot
// carry Go types.
type ExternalEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}
