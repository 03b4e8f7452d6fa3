package tillflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aretw0/tillflow/internal/logging"
	"github.com/aretw0/tillflow/internal/presentation/graph"
	"github.com/aretw0/tillflow/internal/runtime"
	"github.com/aretw0/tillflow/pkg/adapters/flowfile"
	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/aretw0/tillflow/pkg/dsl"
	"github.com/aretw0/tillflow/pkg/events"
	"github.com/aretw0/tillflow/pkg/ports"
	"github.com/aretw0/tillflow/pkg/registry"
	"github.com/aretw0/tillflow/pkg/session"
)

// Re-exported runtime types, so that hosts only import the root package.
type (
	Conversation   = runtime.Conversation
	Transition     = runtime.Transition
	TransitionStep = runtime.TransitionStep
	Outcome        = runtime.Outcome
	Handle         = runtime.Handle
	RecheckStep    = runtime.RecheckStep
	ErrorHandler   = runtime.ErrorHandler
)

var (
	// Continue lets the transition step chain move on.
	Continue = runtime.Continue
	// Proceed resumes a stalled transition.
	Proceed = runtime.Proceed
	// Stay keeps a stalled transition pending.
	Stay = runtime.Stay
)

// StallFor defers arrival until one of the accepted actions proceeds it.
func StallFor(accepts ...string) Outcome {
	return runtime.StallFor(accepts...)
}

// Engine is the high-level entry point of the library.
// It wraps the internal runtime and the flow compilation pipeline.
type Engine struct {
	runtime  *runtime.Engine
	registry *registry.Registry
	hooks    domain.LifecycleHooks
	logger   *slog.Logger

	runtimeOpts []runtime.EngineOption

	// Name is the entry flow name.
	Name string
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithPresenter sets the callback that shows screens on devices.
func WithPresenter(p ports.Presenter) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithPresenter(p))
	}
}

// WithTopology sets the device relationship lookup used by Broadcast.
func WithTopology(t ports.TopologyProvider) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithTopology(t))
	}
}

// WithTransitionSteps registers the ordered transition step chain.
func WithTransitionSteps(steps ...TransitionStep) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithTransitionSteps(steps...))
	}
}

// WithErrorHandler replaces the default error handler, which presents a recovery screen.
func WithErrorHandler(h ErrorHandler) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithErrorHandler(h))
	}
}

// WithSessions persists a snapshot of every conversation after each processed item.
func WithSessions(m *session.Manager) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithSessions(m))
	}
}

// WithIDGenerator overrides the generator of action ids.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithIDGenerator(fn))
	}
}

// WithRegistry sets the registry state implementation ids are resolved against.
// It is only consulted by the constructors that compile a flow.
func WithRegistry(reg *registry.Registry) Option {
	return func(e *Engine) {
		e.registry = reg
	}
}

// New compiles flow from src, resolving implementations through reg, and
// creates an engine over it.
func New(src dsl.Source, flow string, reg dsl.Resolver, opts ...Option) (*Engine, error) {
	def, err := dsl.Compile(src, flow, reg)
	if err != nil {
		return nil, err
	}
	return NewFromDefinition(def, opts...)
}

// NewFromFile loads a YAML or JSON flow document and creates an engine over its
// entry flow. Implementation ids missing from the registry become screen states.
func NewFromFile(path string, opts ...Option) (*Engine, error) {
	doc, err := flowfile.Load(path)
	if err != nil {
		return nil, err
	}
	eng := configure(opts)
	def, err := doc.Compile(eng.registry)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", path, err)
	}
	return eng.start(def)
}

// NewFromDefinition creates an engine over an already compiled flow graph.
func NewFromDefinition(def *domain.FlowDefinition, opts ...Option) (*Engine, error) {
	return configure(opts).start(def)
}

func configure(opts []Option) *Engine {
	eng := &Engine{}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	return eng
}

func (e *Engine) start(def *domain.FlowDefinition) (*Engine, error) {
	opts := append([]runtime.EngineOption{
		runtime.WithLogger(e.logger),
		runtime.WithLifecycleHooks(e.hooks),
	}, e.runtimeOpts...)
	rt, err := runtime.NewEngine(def, opts...)
	if err != nil {
		return nil, err
	}
	e.runtime = rt
	e.Name = def.Name
	return e, nil
}

// Begin starts a conversation for deviceID at the entry flow's initial state.
func (e *Engine) Begin(ctx context.Context, deviceID string, seed map[string]any) error {
	return e.runtime.Begin(ctx, deviceID, seed)
}

// End tears down the conversation of deviceID.
func (e *Engine) End(ctx context.Context, deviceID string) error {
	return e.runtime.End(ctx, deviceID)
}

// DoAction submits an action and waits until the device has processed it.
func (e *Engine) DoAction(ctx context.Context, deviceID, name string, payload any) error {
	return e.runtime.DoAction(ctx, deviceID, name, payload)
}

// Post queues an action without waiting for it.
func (e *Engine) Post(deviceID, name string, payload any) error {
	return e.runtime.Post(deviceID, name, payload)
}

// Exec runs fn on the device loop, serialized with its actions.
func (e *Engine) Exec(ctx context.Context, deviceID string, fn func(ctx context.Context, conv *Conversation) error) error {
	return e.runtime.Exec(ctx, deviceID, fn)
}

// Broadcast delivers event to the handlers related to sourceDeviceID and
// reports how many handled it.
func (e *Engine) Broadcast(ctx context.Context, sourceDeviceID string, event any) (int, error) {
	return e.runtime.Broadcast(ctx, sourceDeviceID, event)
}

// Publish is the fire-and-forget form of Broadcast.
func (e *Engine) Publish(sourceDeviceID string, event any) {
	e.runtime.Publish(sourceDeviceID, event)
}

// Snapshot returns the observable state of a conversation.
func (e *Engine) Snapshot(ctx context.Context, deviceID string) (*domain.Snapshot, error) {
	return e.runtime.Snapshot(ctx, deviceID)
}

// Devices lists the devices with a live conversation.
func (e *Engine) Devices() []string {
	return e.runtime.Devices()
}

// Definition returns the compiled flow graph.
func (e *Engine) Definition() *domain.FlowDefinition {
	return e.runtime.Definition()
}

// Broadcaster exposes the event router, for registering handlers outside flows.
func (e *Engine) Broadcaster() *events.Broadcaster {
	return e.runtime.Broadcaster()
}

// Inspect renders the flow graph as a Mermaid diagram. When deviceID names a
// live conversation its position is highlighted.
func (e *Engine) Inspect(ctx context.Context, deviceID string) (string, error) {
	var overlay *graph.GraphOverlay
	if deviceID != "" {
		snap, err := e.runtime.Snapshot(ctx, deviceID)
		if err != nil {
			return "", err
		}
		overlay = graph.OverlayFromSnapshot(snap)
	}
	return graph.GenerateMermaid(e.runtime.Definition(), overlay), nil
}

// Close ends every conversation and rejects further work.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}
