package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/aretw0/tillflow/internal/logging"
	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/aretw0/tillflow/pkg/ports"
)

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broadcaster) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Broadcaster delivers events to the handlers registered for a target type.
type Broadcaster struct {
	topology ports.TopologyProvider
	logger   *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]domain.Registration
}

// New creates a Broadcaster. A nil topology knows no relationships besides SELF.
func New(topology ports.TopologyProvider, opts ...Option) *Broadcaster {
	if topology == nil {
		topology = ports.TopologyFunc(func(string) domain.Relations { return domain.Relations{} })
	}
	b := &Broadcaster{
		topology: topology,
		logger:   logging.NewNop(),
		handlers: make(map[string][]domain.Registration),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register adds handlers for a target type. Registrations without a Handle are ignored.
func (b *Broadcaster) Register(targetType string, regs ...domain.Registration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range regs {
		if r.Handle == nil {
			b.logger.Warn("ignoring event handler without function", "target_type", targetType, "handler", r.Name)
			continue
		}
		if len(r.Sources) == 0 {
			b.logger.Warn("event handler declares no sources and will never fire", "target_type", targetType, "handler", r.Name)
		}
		b.handlers[targetType] = append(b.handlers[targetType], r)
	}
}

// Registered reports whether any handler exists for a target type.
func (b *Broadcaster) Registered(targetType string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[targetType]) > 0
}

// Relations computes the relationships of source as seen from target.
// The result is a set: each relationship appears at most once.
func (b *Broadcaster) Relations(source, target string) []domain.Source {
	var out []domain.Source
	if source == target {
		out = append(out, domain.SourceSelf)
	}
	tr := b.topology.Relations(target)
	if tr.Parent != "" && tr.Parent == source {
		out = append(out, domain.SourceParent)
	}
	sr := b.topology.Relations(source)
	if slices.Contains(tr.Paired, source) || slices.Contains(sr.Paired, target) || (sr.Parent != "" && sr.Parent == target) {
		out = append(out, domain.SourcePaired)
	}
	return out
}

// PostEventToObject delivers env to the handlers registered for targetType on
// behalf of target. It returns true if at least one handler ran. Handler errors,
// including recovered panics, are joined; one failing handler does not stop the others.
func (b *Broadcaster) PostEventToObject(ctx context.Context, targetType string, target domain.Receiver, env domain.Envelope) (bool, error) {
	b.mu.RLock()
	regs := b.handlers[targetType]
	b.mu.RUnlock()
	if len(regs) == 0 {
		return false, nil
	}

	rels := b.Relations(env.SourceDevice, target.DeviceID())
	if len(rels) == 0 {
		return false, nil
	}
	d := domain.Delivery{Envelope: env, Relations: rels}

	handled := false
	var errs []error
	for _, reg := range regs {
		if !listens(reg, rels) || !Matches(reg, env.Event) {
			continue
		}
		handled = true
		b.logger.Debug("delivering event",
			"target_type", targetType,
			"device_id", target.DeviceID(),
			"source_device", env.SourceDevice,
			"handler", reg.Name,
			"event", fmt.Sprintf("%T", env.Event))
		if err := invoke(ctx, reg, target, d); err != nil {
			errs = append(errs, fmt.Errorf("handler %q on %s: %w", reg.Name, targetType, err))
		}
	}
	return handled, errors.Join(errs...)
}

// listens reports whether any computed relationship is among the declared
// sources. An empty source list listens to nothing.
func listens(reg domain.Registration, rels []domain.Source) bool {
	for _, r := range rels {
		if slices.Contains(reg.Sources, r) {
			return true
		}
	}
	return false
}

func invoke(ctx context.Context, reg domain.Registration, target domain.Receiver, d domain.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return reg.Handle(ctx, target, d)
}
