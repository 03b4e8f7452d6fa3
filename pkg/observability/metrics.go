package observability

import (
	"context"

	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine collectors.
type Metrics struct {
	Conversations prometheus.Gauge
	Transitions   *prometheus.CounterVec
	Errors        *prometheus.CounterVec
	Stalls        *prometheus.CounterVec
	Pending       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg. A nil reg skips
// registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Conversations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tillflow_active_conversations",
			Help: "Number of live conversations",
		}),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tillflow_state_enter_total",
				Help: "Total number of state arrivals",
			},
			[]string{"flow", "state"},
		),
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tillflow_action_errors_total",
				Help: "Total number of errors handed to the error handler",
			},
			[]string{"kind"},
		),
		Stalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tillflow_stalls_total",
				Help: "Total number of transitions stalled by a step",
			},
			[]string{"step"},
		),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tillflow_pending_transitions",
			Help: "Number of transitions currently stalled",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Conversations, m.Transitions, m.Errors, m.Stalls, m.Pending)
	}
	return m
}

// Hooks returns lifecycle hooks that update the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnConversationBegin: func(context.Context, *domain.EventBase) {
			m.Conversations.Inc()
		},
		OnConversationEnd: func(context.Context, *domain.EventBase) {
			m.Conversations.Dec()
		},
		OnStateEnter: func(_ context.Context, e *domain.StateEvent) {
			m.Transitions.WithLabelValues(e.Flow, e.State).Inc()
		},
		OnActionError: func(_ context.Context, e *domain.ErrorEvent) {
			m.Errors.WithLabelValues(e.Kind).Inc()
		},
		OnStall: func(_ context.Context, e *domain.StallEvent) {
			m.Stalls.WithLabelValues(e.Step).Inc()
			m.Pending.Inc()
		},
		OnResume: func(context.Context, *domain.StallEvent) {
			m.Pending.Dec()
		},
	}
}
