package runtime_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aretw0/tillflow/internal/runtime"
	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/aretw0/tillflow/pkg/dsl"
	"github.com/aretw0/tillflow/pkg/registry"
	"github.com/stretchr/testify/require"
)

// screens records what the engine presents, per device.
type screens struct {
	mu   sync.Mutex
	seen map[string][]domain.Screen
}

func newScreens() *screens {
	return &screens{seen: make(map[string][]domain.Screen)}
}

func (s *screens) Present(_ context.Context, deviceID string, screen domain.Screen) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[deviceID] = append(s.seen[deviceID], screen)
	return nil
}

func (s *screens) last(deviceID string) domain.Screen {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.seen[deviceID]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (s *screens) count(deviceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen[deviceID])
}

// errorLog collects what reaches the error handler.
type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorLog) handle(_ context.Context, _ *runtime.Conversation, _ domain.Action, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *errorLog) all() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

// trace records an ordered list of labels.
type trace struct {
	mu    sync.Mutex
	items []string
}

func (t *trace) add(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, s)
}

func (t *trace) list() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.items...)
}

func (t *trace) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = nil
}

// nameRegistry registers states whose screen is their own id.
func nameRegistry(t *testing.T, ids ...string) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for _, id := range ids {
		id := id
		require.NoError(t, reg.RegisterFunc(id, func(context.Context, domain.Conversation, domain.Action) (domain.Screen, error) {
			return id, nil
		}))
	}
	return reg
}

func compile(t *testing.T, b *dsl.Builder, flow string, reg *registry.Registry) *domain.FlowDefinition {
	t.Helper()
	def, err := dsl.Compile(b.Source(), flow, reg)
	require.NoError(t, err)
	return def
}

func newEngine(t *testing.T, def *domain.FlowDefinition, opts ...runtime.EngineOption) *runtime.Engine {
	t.Helper()
	e, err := runtime.NewEngine(def, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = e.Close(context.Background())
	})
	return e
}

func snapshot(t *testing.T, e *runtime.Engine, deviceID string) *domain.Snapshot {
	t.Helper()
	snap, err := e.Snapshot(context.Background(), deviceID)
	require.NoError(t, err)
	return snap
}

var errBoom = errors.New("boom")
