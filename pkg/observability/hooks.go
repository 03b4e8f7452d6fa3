package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/tillflow/pkg/domain"
)

// LoggingHooks logs every lifecycle event. Arrivals and departures are logged
// at debug level, errors at warn.
func LoggingHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnConversationBegin: func(ctx context.Context, e *domain.EventBase) {
			logger.InfoContext(ctx, "conversation_begin", "device_id", e.DeviceID)
		},
		OnConversationEnd: func(ctx context.Context, e *domain.EventBase) {
			logger.InfoContext(ctx, "conversation_end", "device_id", e.DeviceID)
		},
		OnStateEnter: func(ctx context.Context, e *domain.StateEvent) {
			logger.DebugContext(ctx, "state_enter",
				"device_id", e.DeviceID,
				"flow", e.Flow,
				"state", e.State,
				"action", e.Action,
				"depth", e.Depth,
			)
		},
		OnStateLeave: func(ctx context.Context, e *domain.StateEvent) {
			logger.DebugContext(ctx, "state_leave",
				"device_id", e.DeviceID,
				"flow", e.Flow,
				"state", e.State,
			)
		},
		OnActionError: func(ctx context.Context, e *domain.ErrorEvent) {
			logger.WarnContext(ctx, "action_error",
				"device_id", e.DeviceID,
				"state", e.State,
				"action", e.Action,
				"kind", e.Kind,
				"err", e.Err,
			)
		},
		OnStall: func(ctx context.Context, e *domain.StallEvent) {
			logger.InfoContext(ctx, "stall",
				"device_id", e.DeviceID,
				"step", e.Step,
				"target", e.Target,
				"accepts", e.Accepts,
			)
		},
		OnResume: func(ctx context.Context, e *domain.StallEvent) {
			logger.InfoContext(ctx, "resume",
				"device_id", e.DeviceID,
				"step", e.Step,
				"target", e.Target,
			)
		},
	}
}

// Chain combines hooks; each callback runs in the given order. Nil callbacks are skipped.
func Chain(hooks ...domain.LifecycleHooks) domain.LifecycleHooks {
	var out domain.LifecycleHooks
	for _, h := range hooks {
		out.OnConversationBegin = chain(out.OnConversationBegin, h.OnConversationBegin)
		out.OnConversationEnd = chain(out.OnConversationEnd, h.OnConversationEnd)
		out.OnStateEnter = chain(out.OnStateEnter, h.OnStateEnter)
		out.OnStateLeave = chain(out.OnStateLeave, h.OnStateLeave)
		out.OnActionError = chain(out.OnActionError, h.OnActionError)
		out.OnStall = chain(out.OnStall, h.OnStall)
		out.OnResume = chain(out.OnResume, h.OnResume)
	}
	return out
}

func chain[E any](first, next func(context.Context, E)) func(context.Context, E) {
	switch {
	case next == nil:
		return first
	case first == nil:
		return next
	}
	return func(ctx context.Context, e E) {
		first(ctx, e)
		next(ctx, e)
	}
}
