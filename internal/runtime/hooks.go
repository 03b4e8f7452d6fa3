package runtime

import (
	"context"

	"github.com/aretw0/tillflow/pkg/domain"
)

func (e *Engine) emitConversation(ctx context.Context, typ domain.EventType, deviceID string, fn func(context.Context, *domain.EventBase)) {
	if fn == nil {
		return
	}
	fn(ctx, &domain.EventBase{Timestamp: e.now(), Type: typ, DeviceID: deviceID})
}

func (e *Engine) emitState(ctx context.Context, fn func(context.Context, *domain.StateEvent), typ domain.EventType, c *Conversation, st *domain.StateDescriptor, action string) {
	if fn == nil {
		return
	}
	fn(ctx, &domain.StateEvent{
		EventBase: domain.EventBase{Timestamp: e.now(), Type: typ, DeviceID: c.id},
		Flow:      st.Flow,
		State:     st.Name,
		Action:    action,
		Depth:     len(c.frames),
	})
}

func (e *Engine) emitError(ctx context.Context, c *Conversation, action domain.Action, err error) {
	if e.hooks.OnActionError == nil {
		return
	}
	e.hooks.OnActionError(ctx, &domain.ErrorEvent{
		EventBase: domain.EventBase{Timestamp: e.now(), Type: domain.EventActionError, DeviceID: c.id},
		State:     c.StateName(),
		Action:    action.Name,
		Kind:      domain.ErrorKind(err),
		Err:       err,
	})
}

func (e *Engine) emitStall(ctx context.Context, c *Conversation, fn func(context.Context, *domain.StallEvent), typ domain.EventType, step, target string, accepts []string) {
	if fn == nil {
		return
	}
	fn(ctx, &domain.StallEvent{
		EventBase: domain.EventBase{Timestamp: e.now(), Type: typ, DeviceID: c.id},
		Step:      step,
		Target:    target,
		Accepts:   accepts,
	})
}
