package domain_test

import (
	"testing"

	"github.com/aretw0/stratum/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to domain.Phase
		want     bool
	}{
		{domain.PhaseInitialized, domain.PhasePlanning, true},
		{domain.PhasePlanning, domain.PhaseLabAllocation, true},
		{domain.PhaseLabAllocation, domain.PhaseExecuting, true},
		{domain.PhaseExecuting, domain.PhaseValidating, true},
		{domain.PhaseValidating, domain.PhaseCompleted, true},
		{domain.PhaseExecuting, domain.PhaseExecuting, true},
		{domain.PhaseInitialized, domain.PhaseInitialized, false},
		{domain.PhaseInitialized, domain.PhaseExecuting, false},
		{domain.PhaseExecuting, domain.PhasePlanning, false},
		{domain.PhaseExecuting, domain.PhaseCompleted, false},
		{domain.PhaseExecuting, domain.PhaseFailed, true},
		{domain.PhaseInitialized, domain.PhaseCancelled, true},
		{domain.PhaseCompleted, domain.PhaseFailed, false},
		{domain.PhaseFailed, domain.PhaseCancelled, false},
		{domain.PhaseCancelled, domain.PhasePlanning, false},
		{domain.Phase("BOGUS"), domain.PhasePlanning, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, domain.CanTransition(tt.from, tt.to))
		})
	}
}

func TestPredecessors(t *testing.T) {
	assert.ElementsMatch(t,
		[]domain.Phase{domain.PhaseValidating},
		domain.Predecessors(domain.PhaseCompleted))

	assert.ElementsMatch(t,
		[]domain.Phase{domain.PhaseLabAllocation, domain.PhaseExecuting},
		domain.Predecessors(domain.PhaseExecuting))

	assert.ElementsMatch(t,
		[]domain.Phase{
			domain.PhaseInitialized, domain.PhasePlanning, domain.PhaseLabAllocation,
			domain.PhaseExecuting, domain.PhaseValidating,
		},
		domain.Predecessors(domain.PhaseCancelled))
}

func TestPhase_Terminal(t *testing.T) {
	assert.True(t, domain.PhaseCompleted.IsTerminal())
	assert.True(t, domain.PhaseFailed.IsTerminal())
	assert.True(t, domain.PhaseCancelled.IsTerminal())
	assert.False(t, domain.PhaseValidating.IsTerminal())

	next, ok := domain.PhaseExecuting.Next()
	assert.True(t, ok)
	assert.Equal(t, domain.PhaseValidating, next)

	_, ok = domain.PhaseCompleted.Next()
	assert.False(t, ok)
}
