package memory

import (
	"slices"
	"sync"

	"github.com/aretw0/tillflow/pkg/domain"
)

// Topology implements ports.TopologyProvider with an in-memory table.
type Topology struct {
	mu        sync.RWMutex
	relations map[string]domain.Relations
}

// NewTopology creates an empty topology.
func NewTopology() *Topology {
	return &Topology{relations: make(map[string]domain.Relations)}
}

// SetParent registers parent as the parent of child.
func (t *Topology) SetParent(child, parent string) *Topology {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.relations[child]
	r.Parent = parent
	t.relations[child] = r
	return t
}

// Pair registers a and b as paired with each other.
func (t *Topology) Pair(a, b string) *Topology {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addPaired(a, b)
	t.addPaired(b, a)
	return t
}

func (t *Topology) addPaired(from, to string) {
	r := t.relations[from]
	if !slices.Contains(r.Paired, to) {
		r.Paired = append(r.Paired, to)
	}
	t.relations[from] = r
}

// Forget removes every relation of a device, in both directions.
func (t *Topology) Forget(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.relations, deviceID)
	for id, r := range t.relations {
		if r.Parent == deviceID {
			r.Parent = ""
		}
		r.Paired = slices.DeleteFunc(r.Paired, func(p string) bool { return p == deviceID })
		t.relations[id] = r
	}
}

// Relations implements ports.TopologyProvider.
func (t *Topology) Relations(deviceID string) domain.Relations {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r := t.relations[deviceID]
	return domain.Relations{Parent: r.Parent, Paired: slices.Clone(r.Paired)}
}
