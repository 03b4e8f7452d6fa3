package observability_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/aretw0/tillflow/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Hooks(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	h := m.Hooks()

	h.OnConversationBegin(ctx, &domain.EventBase{DeviceID: "pos-1"})
	h.OnConversationBegin(ctx, &domain.EventBase{DeviceID: "pos-2"})
	h.OnConversationEnd(ctx, &domain.EventBase{DeviceID: "pos-2"})
	h.OnStateEnter(ctx, &domain.StateEvent{Flow: "Main", State: "Home"})
	h.OnStateEnter(ctx, &domain.StateEvent{Flow: "Main", State: "Home"})
	h.OnActionError(ctx, &domain.ErrorEvent{Kind: "unhandled"})
	h.OnStall(ctx, &domain.StallEvent{Step: "load"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Conversations))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("Main", "Home")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("unhandled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Stalls.WithLabelValues("load")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Pending))

	h.OnResume(ctx, &domain.StallEvent{Step: "load"})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Pending))

	count, err := testutil.GatherAndCount(reg)
	assert.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestLoggingHooks(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := observability.LoggingHooks(logger)

	h.OnStateEnter(context.Background(), &domain.StateEvent{
		EventBase: domain.EventBase{DeviceID: "pos-1"},
		Flow:      "Main",
		State:     "Checkout",
	})
	h.OnActionError(context.Background(), &domain.ErrorEvent{
		EventBase: domain.EventBase{DeviceID: "pos-1"},
		Kind:      "hook",
		Err:       errors.New("boom"),
	})

	out := buf.String()
	assert.Contains(t, out, "state_enter")
	assert.Contains(t, out, "state=Checkout")
	assert.Contains(t, out, "action_error")
	assert.Contains(t, out, "err=boom")
}

func TestChain(t *testing.T) {
	var order []string
	a := domain.LifecycleHooks{
		OnStateEnter: func(context.Context, *domain.StateEvent) { order = append(order, "a") },
	}
	b := domain.LifecycleHooks{
		OnStateEnter: func(context.Context, *domain.StateEvent) { order = append(order, "b") },
		OnStall:      func(context.Context, *domain.StallEvent) { order = append(order, "stall") },
	}

	h := observability.Chain(a, domain.LifecycleHooks{}, b)
	h.OnStateEnter(context.Background(), &domain.StateEvent{})
	h.OnStall(context.Background(), &domain.StallEvent{})

	assert.Equal(t, []string{"a", "b", "stall"}, order)
	assert.Nil(t, h.OnResume)
}
