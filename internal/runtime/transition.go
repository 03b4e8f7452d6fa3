package runtime

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"

	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/aretw0/tillflow/pkg/scope"
)

// plan is a transition whose structural changes (frames, flow scopes) have been
// applied and can still be undone.
type plan struct {
	tr       *Transition
	instance domain.State
	undo     []func()
	popped   []*scope.Popped

	// from holds the flows open before the commit, innermost first.
	from []*domain.FlowDefinition
}

// transition runs before-hooks, materializes the target, commits the structural
// changes and hands over to the step chain.
func (c *Conversation) transition(ctx context.Context, action domain.Action, res resolution) error {
	dest := destination(res.target)
	if dest == nil {
		return fmt.Errorf("action %q: target %q has no state to enter", action.Name, res.target.Name())
	}

	if err := invokeBeforeHooks(ctx, c.logger, c, dest, action); err != nil {
		return err
	}

	instance := dest.Materialize()
	if instance == nil {
		return fmt.Errorf("state %q of flow %q has no behavior", dest.Name, dest.Flow)
	}

	p := &plan{
		tr: &Transition{
			DeviceID: c.id,
			Action:   action,
			From:     c.desc,
			To:       dest,
			Target:   res.target,
			conv:     c,
		},
		instance: instance,
		from:     c.openFlows(),
	}
	if err := c.commit(p, res); err != nil {
		c.rollback(p)
		return err
	}
	return c.advance(ctx, p, 0)
}

// commit pops the frames the resolution unwinds and pushes the subflow frame, if
// any. Every change registers its undo.
func (c *Conversation) commit(p *plan, res resolution) error {
	anchor := c.desc
	for k := 0; k < res.unwind; k++ {
		f := c.frames[len(c.frames)-1]
		popped, err := c.scope.Pop(f.sub.Propagate)
		if err != nil {
			return fmt.Errorf("leave subflow %q: %w", f.sub.Name, err)
		}
		prev := c.flow
		c.frames = c.frames[:len(c.frames)-1]
		c.flow = f.flow
		anchor = f.state
		p.popped = append(p.popped, popped)
		p.undo = append(p.undo, func() {
			popped.Restore()
			c.frames = append(c.frames, f)
			c.flow = prev
		})
	}

	if res.target.Kind != domain.TargetSubflow {
		return nil
	}
	sub := res.target.Subflow
	if err := c.scope.Push(sub.Flow.Name, sub.Seed); err != nil {
		return fmt.Errorf("enter subflow %q: %w", sub.Name, err)
	}
	prev := c.flow
	c.frames = append(c.frames, frame{flow: c.flow, state: anchor, sub: sub})
	c.flow = sub.Flow
	p.undo = append(p.undo, func() {
		c.frames = c.frames[:len(c.frames)-1]
		c.flow = prev
		if region, err := c.scope.Pop(nil); err == nil {
			if err := region.Release(); err != nil {
				c.logger.Warn("release subflow scope", "flow", sub.Flow.Name, "err", err)
			}
		}
	})
	return nil
}

// rollback undoes the structural changes of an abandoned plan.
func (c *Conversation) rollback(p *plan) {
	for i := len(p.undo) - 1; i >= 0; i-- {
		p.undo[i]()
	}
	p.undo = nil
	p.popped = nil
}

// advance runs the step chain from step index from, then arrives. On failure
// the plan is rolled back and the previous state stays active.
func (c *Conversation) advance(ctx context.Context, p *plan, from int) (err error) {
	settled := false
	defer func() {
		if !settled {
			c.rollback(p)
		}
	}()

	steps := c.engine.steps
	for i := from; i < len(steps); i++ {
		step := steps[i]
		applicable, err := guard(func() (bool, error) { return step.Applicable(ctx, p.tr) })
		if err != nil {
			return &domain.TransitionStepError{Step: step.Name(), State: p.tr.To.Name, Err: err}
		}
		if !applicable {
			continue
		}

		h := c.newHandle()
		out, err := guard(func() (Outcome, error) { return step.Arrive(ctx, p.tr, h) })
		if err != nil {
			return &domain.TransitionStepError{Step: step.Name(), State: p.tr.To.Name, Err: err}
		}
		if out.Stalled() {
			c.stall(ctx, p, i, out, h)
			settled = true
			return nil
		}
	}

	if err := c.arrive(ctx, p); err != nil {
		return err
	}
	settled = true
	return nil
}

func (c *Conversation) newHandle() *Handle {
	c.gen++
	return &Handle{conv: c, gen: c.gen}
}

func (c *Conversation) stall(ctx context.Context, p *plan, step int, out Outcome, h *Handle) {
	name := c.engine.steps[step].Name()
	c.pending = &pendingTransition{plan: p, step: step, accepts: out.Accepts(), handle: h}
	c.atRest = false
	if err := c.scope.Set(scope.Device, scope.KeyPendingStep, name); err != nil {
		c.logger.Warn("failed to record pending step", "step", name, "err", err)
	}
	c.logger.Debug("transition stalled", "step", name, "target", p.tr.To.Name, "accepts", out.accepts)
	c.engine.emitStall(ctx, c, c.engine.hooks.OnStall, domain.EventStall, name, p.tr.To.Name, out.accepts)
	if out.screen != nil {
		c.engine.present(ctx, c.id, out.screen)
	}
}

func (c *Conversation) resume(ctx context.Context) *pendingTransition {
	pd := c.pending
	c.pending = nil
	c.scope.Remove(scope.Device, scope.KeyPendingStep)
	name := c.engine.steps[pd.step].Name()
	c.engine.emitStall(ctx, c, c.engine.hooks.OnResume, domain.EventResume, name, pd.plan.tr.To.Name, nil)
	return pd
}

// pendingAction routes an action received while a step is stalled.
func (c *Conversation) pendingAction(ctx context.Context, action domain.Action) error {
	pd := c.pending
	step := c.engine.steps[pd.step]
	if !slices.Contains(pd.accepts, action.Name) {
		return &domain.ActionRejectedError{
			DeviceID: c.id,
			Step:     step.Name(),
			Action:   action.Name,
			Accepts:  slices.Clone(pd.accepts),
		}
	}

	out, err := guard(func() (Outcome, error) { return step.OnAction(ctx, pd.plan.tr, action, pd.handle) })
	if err != nil {
		return &domain.TransitionStepError{Step: step.Name(), State: pd.plan.tr.To.Name, Err: err}
	}
	switch out.kind {
	case outcomeStay:
		return nil
	case outcomeStall:
		if len(out.accepts) > 0 {
			pd.accepts = out.Accepts()
		}
		if out.screen != nil {
			c.engine.present(ctx, c.id, out.screen)
		}
		return nil
	}
	c.resume(ctx)
	return c.advance(ctx, pd.plan, pd.step+1)
}

// proceed completes the stalled transition a handle was issued for.
func (c *Conversation) proceed(ctx context.Context, gen uint64) error {
	if c.pending == nil || c.pending.handle.gen != gen {
		return domain.ErrStaleHandle
	}
	pd := c.resume(ctx)
	return c.advance(ctx, pd.plan, pd.step+1)
}

// arrive enters the new state, replaces the active one and presents its screen.
func (c *Conversation) arrive(ctx context.Context, p *plan) error {
	to := p.tr.To
	screen, err := guard(func() (domain.Screen, error) { return p.instance.Enter(ctx, c, p.tr.Action) })
	if err != nil {
		return fmt.Errorf("enter state %q: %w", to.Name, err)
	}

	old, oldDesc := c.state, c.desc
	c.state, c.desc = p.instance, to
	c.atRest = true

	if leaver, ok := old.(domain.Leaver); ok {
		if err := leaver.Leave(ctx, c); err != nil {
			c.logger.Warn("leave failed", "state", oldDesc.Name, "err", err)
		}
	}
	for _, region := range p.popped {
		if err := region.Release(); err != nil {
			c.logger.Warn("release subflow scope", "flow", region.Name(), "err", err)
		}
	}
	p.undo = nil
	p.popped = nil

	if oldDesc != nil {
		c.engine.emitState(ctx, c.engine.hooks.OnStateLeave, domain.EventStateLeave, c, oldDesc, p.tr.Action.Name)
	}
	c.engine.emitState(ctx, c.engine.hooks.OnStateEnter, domain.EventStateEnter, c, to, p.tr.Action.Name)
	c.logger.Debug("state entered", "state", to.Name, "flow", to.Flow, "action", p.tr.Action.Name)

	c.engine.present(ctx, c.id, screen)
	return nil
}

// guard converts a panic inside fn into a *domain.PanicError.
func guard[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}
