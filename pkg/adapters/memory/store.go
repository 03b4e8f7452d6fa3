// Package memory provides in-process adapters: a snapshot store and a device topology.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/aretw0/tillflow/pkg/domain"
)

// Store implements ports.SnapshotStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.Snapshot
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.Snapshot),
	}
}

func clone(snap *domain.Snapshot) *domain.Snapshot {
	c := *snap
	c.Flows = slices.Clone(snap.Flows)
	c.Accepts = slices.Clone(snap.Accepts)
	c.Scope = maps.Clone(snap.Scope)
	return &c
}

// Save persists the snapshot in memory.
func (s *Store) Save(ctx context.Context, deviceID string, snap *domain.Snapshot) error {
	c := clone(snap)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[deviceID] = c
	return nil
}

// Load retrieves a copy of the snapshot.
func (s *Store) Load(ctx context.Context, deviceID string) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.data[deviceID]
	if !ok {
		return nil, domain.ErrSnapshotNotFound
	}
	return clone(snap), nil
}

// Delete removes the snapshot.
func (s *Store) Delete(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, deviceID)
	return nil
}

// List returns the devices with a snapshot.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	return ids, nil
}
