package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/aretw0/tillflow/pkg/scope"
)

// frame records where a subflow was entered from.
type frame struct {
	flow  *domain.FlowDefinition
	state *domain.StateDescriptor
	sub   *domain.SubflowDescriptor
}

// pendingTransition is a transition deferred by a stalled step.
type pendingTransition struct {
	plan    *plan
	step    int
	accepts []string
	handle  *Handle
}

// Conversation is the runtime of one device. Apart from the queue, every field
// is owned by the device loop.
type Conversation struct {
	engine *Engine
	id     string
	queue  *workQueue
	scope  *scope.Store
	logger *slog.Logger

	flow       *domain.FlowDefinition
	desc       *domain.StateDescriptor
	state      domain.State
	frames     []frame
	atRest     bool
	pending    *pendingTransition
	lastAction string
	gen        uint64

	exited chan struct{}
	endErr error
}

func newConversation(e *Engine, deviceID string, seed map[string]any) *Conversation {
	c := &Conversation{
		engine: e,
		id:     deviceID,
		queue:  newWorkQueue(),
		scope:  scope.New(e.def.Name),
		logger: e.logger.With("device_id", deviceID),
		flow:   e.def,
		exited: make(chan struct{}),
	}
	for k, v := range seed {
		_ = c.scope.Set(scope.Device, k, v)
	}
	return c
}

// DeviceID implements domain.Receiver.
func (c *Conversation) DeviceID() string { return c.id }

// Scope implements domain.Conversation.
func (c *Conversation) Scope() *scope.Store { return c.scope }

// Raise implements domain.Conversation. The action is queued behind the work
// currently being processed.
func (c *Conversation) Raise(name string, payload any) error {
	if !c.queue.Enqueue(work{kind: workAction, ctx: context.Background(), action: c.engine.newAction(name, payload)}) {
		return domain.ErrConversationClosed
	}
	return nil
}

// Publish implements domain.Conversation.
func (c *Conversation) Publish(event any) error {
	if c.queue.Closed() {
		return domain.ErrConversationClosed
	}
	c.engine.Publish(c.id, event)
	return nil
}

// StateName returns the name of the active state, empty before the first arrival.
func (c *Conversation) StateName() string {
	if c.desc == nil {
		return ""
	}
	return c.desc.Name
}

// FlowName returns the name of the innermost active flow.
func (c *Conversation) FlowName() string { return c.flow.Name }

// Depth returns the number of open subflow frames.
func (c *Conversation) Depth() int { return len(c.frames) }

// AtRest reports whether the active state has arrived and nothing is pending.
func (c *Conversation) AtRest() bool { return c.atRest }

// PendingStep returns the name of the stalled step, if any.
func (c *Conversation) PendingStep() (string, bool) {
	if c.pending == nil {
		return "", false
	}
	return c.engine.steps[c.pending.step].Name(), true
}

// submit queues w. When wait is set it blocks until the loop replies or ctx is done.
func (c *Conversation) submit(ctx context.Context, w work, wait bool) result {
	if wait && loopDevice(ctx) == c.id {
		return result{err: fmt.Errorf("device %s: %w", c.id, domain.ErrReentrant)}
	}
	if wait {
		w.done = make(chan result, 1)
		w.ctx = ctx
	} else {
		w.ctx = context.WithoutCancel(ctx)
	}
	if !c.queue.Enqueue(w) {
		return result{err: fmt.Errorf("device %s: %w", c.id, domain.ErrConversationClosed)}
	}
	if !wait {
		return result{}
	}
	select {
	case r := <-w.done:
		return r
	case <-ctx.Done():
		return result{err: ctx.Err()}
	}
}

type loopKey struct{}

// loopDevice returns the device whose loop is running ctx, if any.
func loopDevice(ctx context.Context) string {
	id, _ := ctx.Value(loopKey{}).(string)
	return id
}

func (c *Conversation) run() {
	defer close(c.exited)
	for {
		if w, ok := c.queue.TryDequeue(); ok {
			w.reply(c.process(w))
			continue
		}
		if c.queue.Closed() {
			c.teardown()
			return
		}
		<-c.queue.Wait()
	}
}

// process is the single recovery point of the device loop.
func (c *Conversation) process(w work) (res result) {
	ctx := w.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, loopKey{}, c.id)
	defer func() {
		if r := recover(); r != nil {
			err := &domain.PanicError{Value: r, Stack: debug.Stack()}
			c.fail(ctx, w.action, err)
			res = result{err: err}
		}
		c.persist(ctx)
	}()

	var err error
	switch w.kind {
	case workBegin:
		err = c.begin(ctx, w.action)
	case workAction:
		err = c.handleAction(ctx, w.action)
	case workProceed:
		if c.pending != nil {
			w.action = c.pending.plan.tr.Action
		}
		err = c.proceed(ctx, w.gen)
		if errors.Is(err, domain.ErrStaleHandle) {
			c.logger.Debug("ignoring stale proceed")
			return result{err: err}
		}
	case workEvent:
		handled, err := c.deliver(ctx, w.env)
		if err != nil {
			c.fail(ctx, domain.Action{ID: w.env.ID, Name: fmt.Sprintf("event:%T", w.env.Event)}, err)
		}
		return result{handled: handled, err: err}
	case workExec:
		return result{err: w.fn(ctx, c)}
	}
	if err != nil {
		c.fail(ctx, w.action, err)
	}
	return result{err: err}
}

func (c *Conversation) fail(ctx context.Context, action domain.Action, err error) {
	c.engine.emitError(ctx, c, action, err)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("error handler panicked", "panic", r, "err", err)
		}
	}()
	c.engine.onError(ctx, c, action, err)
}

func (c *Conversation) begin(ctx context.Context, action domain.Action) error {
	c.lastAction = action.Name
	initial := c.engine.def.Initial
	return c.transition(ctx, action, resolution{
		target: domain.Target{Kind: domain.TargetState, State: initial},
		via:    "begin",
	})
}

func (c *Conversation) handleAction(ctx context.Context, action domain.Action) error {
	c.lastAction = action.Name
	if c.pending != nil {
		return c.pendingAction(ctx, action)
	}
	if c.desc == nil {
		return &domain.UnhandledActionError{DeviceID: c.id, Action: action.Name}
	}
	res, ok := c.resolve(action.Name)
	if !ok {
		return &domain.UnhandledActionError{DeviceID: c.id, State: c.desc.Name, Action: action.Name}
	}
	c.logger.Debug("action resolved",
		"action", action.Name,
		"state", c.desc.Name,
		"target", res.target.Name(),
		"via", res.via,
		"unwind", res.unwind)
	return c.transition(ctx, action, res)
}

// openFlows returns the open flows, innermost first.
func (c *Conversation) openFlows() []*domain.FlowDefinition {
	out := make([]*domain.FlowDefinition, 0, len(c.frames)+1)
	out = append(out, c.flow)
	for i := len(c.frames) - 1; i >= 0; i-- {
		out = append(out, c.frames[i].flow)
	}
	return out
}

// visibleFlows returns the flows enclosing the active state, innermost first.
// While an arrival is stalled the frames already reflect the target, so the
// flows open before the transition are used.
func (c *Conversation) visibleFlows() []*domain.FlowDefinition {
	if c.pending != nil && c.pending.plan.from != nil {
		return c.pending.plan.from
	}
	return c.openFlows()
}

// deliver routes an event to the active state's handlers and to the Global
// handlers of every flow enclosing it, innermost first.
func (c *Conversation) deliver(ctx context.Context, env domain.Envelope) (bool, error) {
	flows := c.visibleFlows()
	targets := make([]string, 0, len(flows)+1)
	if c.desc != nil {
		targets = append(targets, stateTarget(c.desc))
	}
	for _, f := range flows {
		targets = append(targets, globalTarget(f))
	}

	handled := false
	var errs []error
	for _, t := range targets {
		ok, err := c.engine.broadcaster.PostEventToObject(ctx, t, c, env)
		handled = handled || ok
		if err != nil {
			errs = append(errs, err)
		}
	}
	return handled, errors.Join(errs...)
}

// teardown runs on the loop once the queue is closed and drained.
func (c *Conversation) teardown() {
	ctx := context.Background()
	c.gen++
	if c.pending != nil {
		c.rollback(c.pending.plan)
		c.pending = nil
	}
	var errs []error
	if leaver, ok := c.state.(domain.Leaver); ok {
		if err := leaver.Leave(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("leave %s: %w", c.StateName(), err))
		}
	}
	if err := c.scope.Teardown(); err != nil {
		errs = append(errs, err)
	}
	if c.engine.sessions != nil {
		if err := c.engine.sessions.Delete(ctx, c.id); err != nil {
			c.logger.Warn("failed to delete snapshot", "err", err)
		}
	}
	c.atRest = false
	c.engine.emitConversation(ctx, domain.EventConversationEnd, c.id, c.engine.hooks.OnConversationEnd)
	c.endErr = errors.Join(errs...)
}

func (c *Conversation) shutdown(ctx context.Context) error {
	for _, w := range c.queue.Close() {
		w.reply(result{err: fmt.Errorf("device %s: %w", c.id, domain.ErrConversationClosed)})
	}
	select {
	case <-c.exited:
		return c.endErr
	case <-ctx.Done():
		return ctx.Err()
	}
}
