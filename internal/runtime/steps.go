package runtime

import (
	"context"
	"slices"

	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/aretw0/tillflow/pkg/scope"
)

// Transition describes a move towards a target state, as seen by transition steps.
type Transition struct {
	DeviceID string
	Action   domain.Action

	// From is nil for the transition that begins a conversation.
	From *domain.StateDescriptor
	To   *domain.StateDescriptor

	// Target is the resolved destination; for subflows To is the subflow's initial state.
	Target domain.Target

	conv *Conversation
}

// Scope returns the scope store of the conversation in transit.
func (t *Transition) Scope() *scope.Store {
	return t.conv.scope
}

// Conversation returns the conversation in transit.
func (t *Transition) Conversation() domain.Conversation {
	return t.conv
}

type outcomeKind int

const (
	outcomeContinue outcomeKind = iota
	outcomeStall
	outcomeStay
)

// Outcome is what a transition step decides.
type Outcome struct {
	kind    outcomeKind
	accepts []string
	screen  domain.Screen
}

var (
	// Continue lets the chain move on to the next step.
	Continue = Outcome{kind: outcomeContinue}

	// Proceed resumes a stalled transition. It is the same decision as Continue.
	Proceed = Continue

	// Stay keeps a stalled transition pending.
	Stay = Outcome{kind: outcomeStay}
)

// StallFor defers arrival. While pending, only the accepted actions reach the
// step's OnAction; any other action is rejected.
func StallFor(accepts ...string) Outcome {
	return Outcome{kind: outcomeStall, accepts: accepts}
}

// WithScreen attaches a screen presented while the transition is pending.
func (o Outcome) WithScreen(s domain.Screen) Outcome {
	o.screen = s
	return o
}

// Stalled reports whether the outcome defers arrival.
func (o Outcome) Stalled() bool { return o.kind == outcomeStall }

// Accepts returns the actions a stalled step understands.
func (o Outcome) Accepts() []string { return slices.Clone(o.accepts) }

// TransitionStep is a cross-cutting interceptor evaluated before a state is
// considered arrived.
type TransitionStep interface {
	Name() string

	// Applicable reports whether the step takes part in the transition.
	Applicable(ctx context.Context, t *Transition) (bool, error)

	// Arrive returns Continue, or a StallFor outcome to defer arrival. The handle
	// may be kept and used later, from any goroutine, to resume the transition.
	Arrive(ctx context.Context, t *Transition, h *Handle) (Outcome, error)

	// OnAction receives the accepted actions while the step is stalled.
	// It returns Proceed to resume the transition or Stay to keep waiting.
	OnAction(ctx context.Context, t *Transition, action domain.Action, h *Handle) (Outcome, error)
}

// Handle resumes one stalled transition. It becomes stale once that transition
// completes, aborts or its conversation ends.
type Handle struct {
	conv *Conversation
	gen  uint64
}

// Proceed queues the completion of the stalled transition on the device loop.
func (h *Handle) Proceed() error {
	if h == nil || h.conv == nil {
		return domain.ErrStaleHandle
	}
	if !h.conv.queue.Enqueue(work{kind: workProceed, ctx: context.Background(), gen: h.gen}) {
		return domain.ErrStaleHandle
	}
	return nil
}

// DeviceID returns the device whose transition the handle resumes.
func (h *Handle) DeviceID() string {
	if h == nil || h.conv == nil {
		return ""
	}
	return h.conv.id
}

// RecheckStep stalls arrival while a condition holds and re-evaluates it when
// the re-check action arrives. An optional catch-all action is accepted and ignored.
type RecheckStep struct {
	StepName string

	// While reports whether the transition must wait. Nil never waits.
	While func(ctx context.Context, t *Transition) (bool, error)

	// Recheck is the action that re-evaluates While.
	Recheck string

	// Ignore is accepted while pending and otherwise has no effect.
	Ignore string

	// Screen, when set, builds the screen shown while waiting.
	Screen func(t *Transition) domain.Screen
}

// Name implements TransitionStep.
func (s *RecheckStep) Name() string {
	if s.StepName == "" {
		return "recheck"
	}
	return s.StepName
}

// Applicable implements TransitionStep.
func (s *RecheckStep) Applicable(ctx context.Context, t *Transition) (bool, error) {
	if s.While == nil {
		return false, nil
	}
	return s.While(ctx, t)
}

// Arrive implements TransitionStep.
func (s *RecheckStep) Arrive(_ context.Context, t *Transition, _ *Handle) (Outcome, error) {
	accepts := []string{s.Recheck}
	if s.Ignore != "" {
		accepts = append(accepts, s.Ignore)
	}
	out := StallFor(accepts...)
	if s.Screen != nil {
		out = out.WithScreen(s.Screen(t))
	}
	return out, nil
}

// OnAction implements TransitionStep.
func (s *RecheckStep) OnAction(ctx context.Context, t *Transition, action domain.Action, _ *Handle) (Outcome, error) {
	if action.Name != s.Recheck {
		return Stay, nil
	}
	wait, err := s.Applicable(ctx, t)
	if err != nil {
		return Stay, err
	}
	if wait {
		return Stay, nil
	}
	return Proceed, nil
}
