package executor

import (
	"time"

	"github.com/aretw0/stratum/pkg/domain"
)

// Report summarizes a run, successful or not.
type Report struct {
	Payload    any
	Allocation *domain.WorkAllocation

	Attempts  int
	Successes int
	Failures  int

	StartTime time.Time
	EndTime   time.Time

	// Durations holds the time spent in each phase entered by the run.
	Durations map[domain.Phase]time.Duration

	// PhaseData holds annotations produced after the last phase write.
	// The caller records them with the terminal write.
	PhaseData map[string]any
}

// Metrics converts the report into the persisted metrics of sessionID.
func (r *Report) Metrics(sessionID string) *domain.ExecutionMetrics {
	custom := make(map[string]any, len(r.Durations))
	for phase, d := range r.Durations {
		custom["phase."+string(phase)+".ms"] = d.Milliseconds()
	}
	return &domain.ExecutionMetrics{
		SessionID: sessionID,
		StartTime: r.StartTime,
		EndTime:   r.EndTime,
		Attempts:  r.Attempts,
		Successes: r.Successes,
		Failures:  r.Failures,
		Custom:    custom,
	}
}
