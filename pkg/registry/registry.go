// Package registry maps state implementation ids to behavior factories.
//
// Flow declarations name their behaviors by string id; the registry is the single
// place where those ids are bound to Go code. It is consulted once, when a flow
// graph is compiled.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/tillflow/pkg/domain"
)

// Fallback produces a factory for ids that were never registered.
// Returning nil means the id stays unresolved.
type Fallback func(id string) domain.StateFactory

// Option configures a Registry.
type Option func(*Registry)

// WithFallback installs a factory of last resort.
func WithFallback(fn Fallback) Option {
	return func(r *Registry) {
		r.fallback = fn
	}
}

// Registry manages the available state behaviors.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]domain.StateFactory
	fallback  Fallback
}

// New creates a new empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		factories: make(map[string]domain.StateFactory),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds id to a factory. Registering the same id twice is an error.
func (r *Registry) Register(id string, factory domain.StateFactory) error {
	if id == "" {
		return fmt.Errorf("register state: empty id")
	}
	if factory == nil {
		return fmt.Errorf("register state %q: nil factory", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[id]; ok {
		return fmt.Errorf("register state %q: already registered", id)
	}
	r.factories[id] = factory
	return nil
}

// MustRegister is like Register but panics on error. Meant for package init wiring.
func (r *Registry) MustRegister(id string, factory domain.StateFactory) *Registry {
	if err := r.Register(id, factory); err != nil {
		panic(err)
	}
	return r
}

// RegisterFunc registers a stateless behavior.
func (r *Registry) RegisterFunc(id string, fn func(ctx context.Context, conv domain.Conversation, trigger domain.Action) (domain.Screen, error)) error {
	if fn == nil {
		return fmt.Errorf("register state %q: nil function", id)
	}
	return r.Register(id, func() domain.State { return domain.StateFunc(fn) })
}

// Resolve looks up a factory by id, consulting the fallback for unknown ids.
func (r *Registry) Resolve(id string) (domain.StateFactory, bool) {
	r.mu.RLock()
	f, ok := r.factories[id]
	fallback := r.fallback
	r.mu.RUnlock()

	if ok {
		return f, true
	}
	if fallback != nil {
		if f := fallback(id); f != nil {
			return f, true
		}
	}
	return nil, false
}

// IDs returns the explicitly registered ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
