// Package scope implements the hierarchical value store owned by one conversation.
//
// A store has one device region, alive for the whole conversation, and a stack of
// flow regions: the root flow region sits at the bottom and every subflow entry
// pushes one more. Values are created lazily and removed together with the region
// that owns them; values implementing io.Closer are closed on removal.
package scope

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"sync"
)

// Kind addresses a region of the store.
type Kind int

const (
	// Device is the region that outlives every subflow push and pop.
	Device Kind = iota + 1
	// Flow is the innermost flow region.
	Flow
)

func (k Kind) String() string {
	switch k {
	case Device:
		return "device"
	case Flow:
		return "flow"
	}
	return "unknown"
}

// KeyPendingStep is the device-scope key holding the name of a stalled transition step.
const KeyPendingStep = "tillflow.pending_step"

var (
	// ErrUnderflow is returned when popping the root flow region.
	ErrUnderflow = errors.New("scope underflow: cannot pop the root flow scope")

	// ErrClosed is returned when the store has been torn down.
	ErrClosed = errors.New("scope store closed")
)

type region struct {
	name   string
	values map[string]any
}

func newRegion(name string) *region {
	return &region{name: name, values: make(map[string]any)}
}

// Store is the scope store of one conversation.
type Store struct {
	mu     sync.RWMutex
	device *region
	flows  []*region
	closed bool
}

// New creates a store whose root flow region is named after rootFlow.
func New(rootFlow string) *Store {
	return &Store{
		device: newRegion("device"),
		flows:  []*region{newRegion(rootFlow)},
	}
}

func (s *Store) region(k Kind) (*region, error) {
	if s.closed {
		return nil, ErrClosed
	}
	switch k {
	case Device:
		return s.device, nil
	case Flow:
		return s.flows[len(s.flows)-1], nil
	}
	return nil, fmt.Errorf("unknown scope kind %d", k)
}

// Set stores value under key in the addressed region.
func (s *Store) Set(k Kind, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.region(k)
	if err != nil {
		return err
	}
	r.values[key] = value
	return nil
}

// Get returns the value stored under key in the addressed region.
func (s *Store) Get(k Kind, key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, err := s.region(k)
	if err != nil {
		return nil, false
	}
	v, ok := r.values[key]
	return v, ok
}

// Remove deletes key from the addressed region and returns the removed value.
// The value is not closed; ownership moves to the caller.
func (s *Store) Remove(k Kind, key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.region(k)
	if err != nil {
		return nil, false
	}
	v, ok := r.values[key]
	delete(r.values, key)
	return v, ok
}

// GetOrCreate returns the value under key, creating it with fn on first use.
// fn runs without the store lock held, so it may read and write the store. If
// another value was stored under key while fn ran, that value wins and the
// created one is closed when it is an io.Closer. A failing fn leaves the
// region untouched.
func (s *Store) GetOrCreate(k Kind, key string, fn func() (any, error)) (any, error) {
	s.mu.RLock()
	r, err := s.region(k)
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	v, ok := r.values[key]
	s.mu.RUnlock()
	if ok {
		return v, nil
	}

	created, err := fn()
	if err != nil {
		return nil, fmt.Errorf("create scope entry %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.live(r) {
		discard(created)
		return nil, ErrClosed
	}
	if v, ok := r.values[key]; ok {
		discard(created)
		return v, nil
	}
	r.values[key] = created
	return created, nil
}

// live reports whether r is still attached to the store.
func (s *Store) live(r *region) bool {
	if r == s.device {
		return true
	}
	for _, f := range s.flows {
		if f == r {
			return true
		}
	}
	return false
}

func discard(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}

// Lookup searches the innermost flow region first and then the device region.
func (s *Store) Lookup(key string) (any, bool) {
	if v, ok := s.Get(Flow, key); ok {
		return v, true
	}
	return s.Get(Device, key)
}

// Value is a typed Lookup. It reports false when the key is missing or holds another type.
func Value[T any](s *Store, key string) (T, bool) {
	var zero T
	v, ok := s.Lookup(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// Push opens a new innermost flow region seeded with a copy of seed.
func (s *Store) Push(name string, seed map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	r := newRegion(name)
	maps.Copy(r.values, seed)
	s.flows = append(s.flows, r)
	return nil
}

// Popped is a flow region detached by Pop. It must be either released, which
// closes its values, or restored, which undoes the pop.
type Popped struct {
	store  *Store
	region *region
	moved  map[string]any
	prev   map[string]any
	done   bool
}

// Name returns the name of the popped region.
func (p *Popped) Name() string { return p.region.name }

// Pop detaches the innermost flow region, moving the propagate keys into the
// region that becomes innermost.
func (s *Store) Pop(propagate []string) (*Popped, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if len(s.flows) <= 1 {
		return nil, ErrUnderflow
	}
	top := s.flows[len(s.flows)-1]
	s.flows = s.flows[:len(s.flows)-1]
	parent := s.flows[len(s.flows)-1]

	p := &Popped{store: s, region: top, moved: make(map[string]any), prev: make(map[string]any)}
	for _, key := range propagate {
		v, ok := top.values[key]
		if !ok {
			continue
		}
		if old, had := parent.values[key]; had {
			p.prev[key] = old
		}
		parent.values[key] = v
		p.moved[key] = v
		delete(top.values, key)
	}
	return p, nil
}

// Restore undoes the pop: the region becomes innermost again and the parent
// values overwritten by propagation are put back.
func (p *Popped) Restore() {
	if p.done {
		return
	}
	p.done = true
	s := p.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	parent := s.flows[len(s.flows)-1]
	for key, v := range p.moved {
		if old, had := p.prev[key]; had {
			parent.values[key] = old
		} else {
			delete(parent.values, key)
		}
		p.region.values[key] = v
	}
	s.flows = append(s.flows, p.region)
}

// Release closes every value still owned by the popped region.
// Propagated values belong to the parent region and stay open.
func (p *Popped) Release() error {
	if p.done {
		return nil
	}
	p.done = true
	return closeAll(p.region)
}

// Depth returns the number of flow regions above the root one.
func (s *Store) Depth() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.flows) == 0 {
		return 0
	}
	return len(s.flows) - 1
}

// FlowName returns the name of the innermost flow region.
func (s *Store) FlowName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.flows) == 0 {
		return ""
	}
	return s.flows[len(s.flows)-1].name
}

// Snapshot returns a copy of the values held by the addressed region.
func (s *Store) Snapshot(k Kind) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, err := s.region(k)
	if err != nil {
		return nil
	}
	return maps.Clone(r.values)
}

// Teardown closes every flow region innermost first, then the device region.
// The store is unusable afterwards.
func (s *Store) Teardown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for i := len(s.flows) - 1; i >= 0; i-- {
		errs = append(errs, closeAll(s.flows[i]))
	}
	errs = append(errs, closeAll(s.device))
	s.flows = nil
	return errors.Join(errs...)
}

func closeAll(r *region) error {
	var errs []error
	for key, v := range r.values {
		if c, ok := v.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s scope entry %q: %w", r.name, key, err))
			}
		}
		delete(r.values, key)
	}
	return errors.Join(errs...)
}
