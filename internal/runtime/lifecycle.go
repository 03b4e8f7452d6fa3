package runtime

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/aretw0/tillflow/pkg/domain"
)

// invokeBeforeHooks runs the hooks declared on target for the action, in
// declaration order. A failing fail-fast hook stops the chain and is returned as
// a *domain.LifecycleHookError; a failing lenient hook is logged and skipped.
func invokeBeforeHooks(ctx context.Context, logger *slog.Logger, conv domain.Conversation, target *domain.StateDescriptor, action domain.Action) error {
	for _, h := range target.Hooks {
		if h.Run == nil || !h.AppliesTo(action.Name) {
			continue
		}
		err := runHook(ctx, h, conv, action)
		if err == nil {
			continue
		}
		if h.ContinueOnError {
			logger.Warn("before hook failed, continuing",
				"device_id", conv.DeviceID(),
				"state", target.Name,
				"hook", h.Name,
				"action", action.Name,
				"err", err)
			continue
		}
		return &domain.LifecycleHookError{
			State:  target.Name,
			Hook:   h.Name,
			Action: action.Name,
			Err:    err,
		}
	}
	return nil
}

func runHook(ctx context.Context, h domain.BeforeHook, conv domain.Conversation, action domain.Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return h.Run(ctx, conv, action)
}
