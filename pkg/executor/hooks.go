package executor

import (
	"context"

	"github.com/aretw0/stratum/pkg/domain"
)

// Hooks observe a run. Every field is optional.
type Hooks struct {
	// OnPhaseEnter fires after a phase write was applied by the store.
	OnPhaseEnter func(ctx context.Context, session *domain.Session, phase domain.Phase, data map[string]any)

	// OnAttemptFailed fires after a failed pipeline attempt, before the retry decision.
	OnAttemptFailed func(ctx context.Context, session *domain.Session, attempt int, err error)
}

// then returns hooks that run h first and next after it.
func (h Hooks) then(next Hooks) Hooks {
	out := h
	switch {
	case h.OnPhaseEnter == nil:
		out.OnPhaseEnter = next.OnPhaseEnter
	case next.OnPhaseEnter != nil:
		first, second := h.OnPhaseEnter, next.OnPhaseEnter
		out.OnPhaseEnter = func(ctx context.Context, s *domain.Session, phase domain.Phase, data map[string]any) {
			first(ctx, s, phase, data)
			second(ctx, s, phase, data)
		}
	}
	switch {
	case h.OnAttemptFailed == nil:
		out.OnAttemptFailed = next.OnAttemptFailed
	case next.OnAttemptFailed != nil:
		first, second := h.OnAttemptFailed, next.OnAttemptFailed
		out.OnAttemptFailed = func(ctx context.Context, s *domain.Session, attempt int, err error) {
			first(ctx, s, attempt, err)
			second(ctx, s, attempt, err)
		}
	}
	return out
}

func (h Hooks) phaseEntered(ctx context.Context, s *domain.Session, phase domain.Phase, data map[string]any) {
	if h.OnPhaseEnter != nil {
		h.OnPhaseEnter(ctx, s, phase, data)
	}
}

func (h Hooks) attemptFailed(ctx context.Context, s *domain.Session, attempt int, err error) {
	if h.OnAttemptFailed != nil {
		h.OnAttemptFailed(ctx, s, attempt, err)
	}
}
