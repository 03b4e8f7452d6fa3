package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/tillflow/internal/logging"
	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/aretw0/tillflow/pkg/events"
	"github.com/aretw0/tillflow/pkg/ports"
	"github.com/aretw0/tillflow/pkg/session"
	"github.com/google/uuid"
)

// ErrorHandler receives every error raised while a device loop processes work.
// It runs on the device loop, so it may inspect the conversation freely.
type ErrorHandler func(ctx context.Context, conv *Conversation, action domain.Action, err error)

// Engine runs one conversation per device over a compiled flow graph.
type Engine struct {
	def         *domain.FlowDefinition
	presenter   ports.Presenter
	topology    ports.TopologyProvider
	broadcaster *events.Broadcaster
	steps       []TransitionStep
	onError     ErrorHandler
	hooks       domain.LifecycleHooks
	logger      *slog.Logger
	sessions    *session.Manager
	newID       func() string
	now         func() time.Time

	mu     sync.RWMutex
	convs  map[string]*Conversation
	closed bool
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithPresenter sets the screen callback.
func WithPresenter(p ports.Presenter) EngineOption {
	return func(e *Engine) {
		e.presenter = p
	}
}

// WithTopology sets the device relationship lookup used for event routing.
func WithTopology(t ports.TopologyProvider) EngineOption {
	return func(e *Engine) {
		e.topology = t
	}
}

// WithTransitionSteps registers the global, ordered transition step chain.
func WithTransitionSteps(steps ...TransitionStep) EngineOption {
	return func(e *Engine) {
		e.steps = append(e.steps, steps...)
	}
}

// WithErrorHandler replaces the default error handler.
func WithErrorHandler(h ErrorHandler) EngineOption {
	return func(e *Engine) {
		e.onError = h
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) EngineOption {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSessions persists a snapshot of every conversation after each processed item.
func WithSessions(m *session.Manager) EngineOption {
	return func(e *Engine) {
		e.sessions = m
	}
}

// WithIDGenerator overrides the generator of action and event ids.
func WithIDGenerator(fn func() string) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an engine for a compiled flow definition and registers the
// event handlers declared on its states.
func NewEngine(def *domain.FlowDefinition, opts ...EngineOption) (*Engine, error) {
	if def == nil || def.Initial == nil {
		return nil, fmt.Errorf("new engine: flow definition without initial state")
	}
	e := &Engine{
		def:    def,
		logger: logging.NewNop(),
		newID:  func() string { return uuid.Must(uuid.NewV7()).String() },
		now:    time.Now,
		convs:  make(map[string]*Conversation),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.onError == nil {
		e.onError = e.defaultErrorHandler
	}
	e.broadcaster = events.New(e.topology, events.WithLogger(e.logger))

	def.Walk(func(flow *domain.FlowDefinition) {
		for _, name := range flow.Order {
			st := flow.States[name]
			if len(st.Handlers) > 0 {
				e.broadcaster.Register(stateTarget(st), st.Handlers...)
			}
		}
		if len(flow.GlobalHandlers) > 0 {
			e.broadcaster.Register(globalTarget(flow), flow.GlobalHandlers...)
		}
	})
	return e, nil
}

func stateTarget(st *domain.StateDescriptor) string {
	return st.Flow + "/" + st.Name
}

func globalTarget(flow *domain.FlowDefinition) string {
	return flow.Name + "/" + domain.GlobalStateName
}

// Definition returns the compiled flow graph.
func (e *Engine) Definition() *domain.FlowDefinition {
	return e.def
}

// Broadcaster returns the event router of the engine.
func (e *Engine) Broadcaster() *events.Broadcaster {
	return e.broadcaster
}

func (e *Engine) lookup(deviceID string) (*Conversation, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.convs[deviceID]
	if !ok {
		return nil, fmt.Errorf("device %s: %w", deviceID, domain.ErrConversationNotFound)
	}
	return c, nil
}

// Begin starts the conversation of a device, seeds its device scope and enters
// the initial state. It blocks until the initial arrival has been processed.
func (e *Engine) Begin(ctx context.Context, deviceID string, seed map[string]any) error {
	if deviceID == "" {
		return fmt.Errorf("begin: empty device id")
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("begin %s: %w", deviceID, domain.ErrConversationClosed)
	}
	if _, ok := e.convs[deviceID]; ok {
		e.mu.Unlock()
		return fmt.Errorf("device %s: %w", deviceID, domain.ErrConversationExists)
	}
	c := newConversation(e, deviceID, seed)
	e.convs[deviceID] = c
	e.mu.Unlock()

	go c.run()
	e.emitConversation(ctx, domain.EventConversationBegin, deviceID, e.hooks.OnConversationBegin)

	err := c.submit(ctx, work{
		kind:   workBegin,
		action: e.newAction(domain.BeginAction, nil),
	}, true).err
	if err != nil {
		// A conversation that failed to reach its initial state is not kept.
		if endErr := e.End(context.WithoutCancel(ctx), deviceID); endErr != nil {
			e.logger.Warn("failed to end conversation after begin error", "device_id", deviceID, "err", endErr)
		}
		return fmt.Errorf("begin %s: %w", deviceID, err)
	}
	return nil
}

// End tears down the conversation of a device: queued work is discarded, the
// scope store is torn down and outstanding step handles become stale.
func (e *Engine) End(ctx context.Context, deviceID string) error {
	e.mu.Lock()
	c, ok := e.convs[deviceID]
	if ok {
		delete(e.convs, deviceID)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("device %s: %w", deviceID, domain.ErrConversationNotFound)
	}
	return c.shutdown(ctx)
}

// DoAction submits an action and blocks until it has been processed. The error
// reported to the error handler, if any, is also returned. Called from the
// device's own loop it fails with domain.ErrReentrant; use Conversation.Raise.
func (e *Engine) DoAction(ctx context.Context, deviceID, name string, payload any) error {
	c, err := e.lookup(deviceID)
	if err != nil {
		return err
	}
	return c.submit(ctx, work{kind: workAction, action: e.newAction(name, payload)}, true).err
}

// Post submits an action without waiting for it to be processed.
func (e *Engine) Post(deviceID, name string, payload any) error {
	c, err := e.lookup(deviceID)
	if err != nil {
		return err
	}
	return c.submit(context.Background(), work{kind: workAction, action: e.newAction(name, payload)}, false).err
}

// Exec runs fn on the loop of a device and waits for it. It is the way for
// outside code to touch a conversation's scope store.
func (e *Engine) Exec(ctx context.Context, deviceID string, fn func(ctx context.Context, conv *Conversation) error) error {
	c, err := e.lookup(deviceID)
	if err != nil {
		return err
	}
	return c.submit(ctx, work{kind: workExec, fn: fn}, true).err
}

// Broadcast fans an event out to every live conversation and waits for the
// deliveries. It returns how many conversations handled the event.
//
// Broadcast must not be called from a device loop (a state or an event handler):
// it fails with domain.ErrReentrant there. Use Conversation.Publish instead.
func (e *Engine) Broadcast(ctx context.Context, sourceDeviceID string, event any) (int, error) {
	if id := loopDevice(ctx); id != "" {
		return 0, fmt.Errorf("broadcast from device %s: %w", id, domain.ErrReentrant)
	}
	env := e.envelope(sourceDeviceID, event)

	type pending struct {
		id   string
		done chan result
	}
	var waits []pending
	for _, c := range e.snapshotConvs() {
		done := make(chan result, 1)
		if !c.queue.Enqueue(work{kind: workEvent, ctx: ctx, env: env, done: done}) {
			continue
		}
		waits = append(waits, pending{id: c.id, done: done})
	}

	handled := 0
	var errs []error
	for _, w := range waits {
		select {
		case r := <-w.done:
			if r.handled {
				handled++
			}
			if r.err != nil {
				errs = append(errs, fmt.Errorf("device %s: %w", w.id, r.err))
			}
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
			return handled, errors.Join(errs...)
		}
	}
	return handled, errors.Join(errs...)
}

// Publish fans an event out to every live conversation without waiting.
func (e *Engine) Publish(sourceDeviceID string, event any) {
	env := e.envelope(sourceDeviceID, event)
	for _, c := range e.snapshotConvs() {
		c.queue.Enqueue(work{kind: workEvent, ctx: context.Background(), env: env})
	}
}

// Snapshot returns the current view of a live conversation, or the last
// persisted one when the device has no live conversation.
func (e *Engine) Snapshot(ctx context.Context, deviceID string) (*domain.Snapshot, error) {
	c, err := e.lookup(deviceID)
	if err != nil {
		if e.sessions != nil {
			return e.sessions.Load(ctx, deviceID)
		}
		return nil, err
	}
	var snap *domain.Snapshot
	err = c.submit(ctx, work{kind: workExec, fn: func(context.Context, *Conversation) error {
		snap = c.snapshot()
		return nil
	}}, true).err
	return snap, err
}

// Devices returns the ids of the live conversations, sorted.
func (e *Engine) Devices() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.convs))
	for id := range e.convs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close ends every conversation and refuses new ones.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	convs := e.convs
	e.convs = make(map[string]*Conversation)
	e.mu.Unlock()

	var errs []error
	for _, c := range convs {
		errs = append(errs, c.shutdown(ctx))
	}
	return errors.Join(errs...)
}

func (e *Engine) snapshotConvs() []*Conversation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Conversation, 0, len(e.convs))
	for _, c := range e.convs {
		out = append(out, c)
	}
	return out
}

func (e *Engine) newAction(name string, payload any) domain.Action {
	return domain.Action{ID: e.newID(), Name: name, Payload: payload, Received: e.now()}
}

func (e *Engine) envelope(source string, event any) domain.Envelope {
	return domain.Envelope{ID: e.newID(), SourceDevice: source, Event: event, Sent: e.now()}
}

func (e *Engine) present(ctx context.Context, deviceID string, screen domain.Screen) {
	if e.presenter == nil {
		return
	}
	if err := e.presenter.Present(ctx, deviceID, screen); err != nil {
		e.logger.Error("presenter failed", "device_id", deviceID, "err", err)
	}
}

func (e *Engine) defaultErrorHandler(ctx context.Context, c *Conversation, action domain.Action, err error) {
	state := c.StateName()
	e.logger.Error("action failed",
		"device_id", c.id,
		"state", state,
		"action", action.Name,
		"kind", domain.ErrorKind(err),
		"err", err)
	e.present(ctx, c.id, domain.RecoveryScreen{
		State:   state,
		Action:  action.Name,
		Message: err.Error(),
		Err:     err,
	})
}
