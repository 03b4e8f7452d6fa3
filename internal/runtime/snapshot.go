package runtime

import (
	"context"
	"encoding/json"
	"io"
	"slices"

	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/aretw0/tillflow/pkg/scope"
)

// snapshot captures the conversation. Only device scope values that survive a
// JSON round trip are included.
func (c *Conversation) snapshot() *domain.Snapshot {
	snap := &domain.Snapshot{
		DeviceID:   c.id,
		Flows:      flowNames(c.visibleFlows()),
		State:      c.StateName(),
		LastAction: c.lastAction,
		Scope:      portable(c.scope.Snapshot(scope.Device)),
		UpdatedAt:  c.engine.now(),
	}
	switch {
	case c.pending != nil:
		snap.Status = domain.StatusPending
		snap.PendingStep = c.engine.steps[c.pending.step].Name()
		snap.PendingTo = c.pending.plan.tr.To.Name
		snap.Accepts = slices.Clone(c.pending.accepts)
		snap.PendingFlows = flowNames(c.openFlows())
	case c.atRest:
		snap.Status = domain.StatusAtRest
	default:
		snap.Status = domain.StatusStarting
	}
	return snap
}

// flowNames lists flows root first.
func flowNames(innermostFirst []*domain.FlowDefinition) []string {
	out := make([]string, 0, len(innermostFirst))
	for i := len(innermostFirst) - 1; i >= 0; i-- {
		out = append(out, innermostFirst[i].Name)
	}
	return out
}

func portable(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		if _, ok := v.(io.Closer); ok {
			continue
		}
		if _, err := json.Marshal(v); err != nil {
			continue
		}
		out[k] = v
	}
	return out
}

// persist saves the snapshot when a session manager is configured. Failures
// are logged; they never fail the processed work.
func (c *Conversation) persist(ctx context.Context) {
	if c.engine.sessions == nil || c.queue.Closed() {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := c.engine.sessions.Save(ctx, c.id, c.snapshot()); err != nil {
		c.logger.Warn("failed to persist snapshot", "err", err)
	}
}
