package graph_test

import (
	"strings"
	"testing"
	"time"

	"github.com/aretw0/stratum/internal/presentation/graph"
	"github.com/aretw0/stratum/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestGenerateMermaid(t *testing.T) {
	out := graph.GenerateMermaid(nil)

	for _, want := range []string{
		"graph TD",
		`INITIALIZED(("INITIALIZED"))`,
		`LAB_ALLOCATION["LAB_ALLOCATION"]`,
		`COMPLETED(["COMPLETED"])`,
		"INITIALIZED --> PLANNING",
		"VALIDATING --> COMPLETED",
		"EXECUTING -.-> FAILED",
		"PLANNING -.-> CANCELLED",
		`EXECUTING -- "retry" --> EXECUTING`,
	} {
		assert.Contains(t, out, want)
	}

	assert.NotContains(t, out, "COMPLETED -->", "terminal phases have no outgoing edges")
	assert.NotContains(t, out, "INITIALIZED -- \"retry\"", "INITIALIZED cannot be re-entered")
	assert.NotContains(t, out, "classDef", "no overlay, no styles")
}

func TestGenerateMermaid_Overlay(t *testing.T) {
	now := time.Now()
	s := domain.NewSession("s1", "strategy", "node-a", nil, now)
	s.Phase = domain.PhaseExecuting
	s.History[domain.PhasePlanning] = now
	s.History[domain.PhaseLabAllocation] = now
	s.History[domain.PhaseExecuting] = now
	s.Entries[domain.PhaseExecuting] = 3

	out := graph.GenerateMermaid(graph.OverlayFor(s))

	assert.Contains(t, out, "class PLANNING visited;")
	assert.Contains(t, out, "class INITIALIZED visited;")
	assert.Contains(t, out, "class EXECUTING current;")
	assert.NotContains(t, out, "class EXECUTING visited;")
	assert.Contains(t, out, "EXECUTING <br/> retries: 2")
	assert.Equal(t, 1, strings.Count(out, "current;"))
}
