package domain

import "time"

// WorkAllocation records which worker serves a session. Written during LAB_ALLOCATION.
type WorkAllocation struct {
	SessionID      string         `json:"session_id"`
	WorkerType     string         `json:"worker_type"`
	AssignedNodeID string         `json:"assigned_node_id"`
	AllocationData map[string]any `json:"allocation_data,omitempty"`
	AllocationTime time.Time      `json:"allocation_time"`
}

// ExecutionMetrics is written once at completion and outlives the session itself.
type ExecutionMetrics struct {
	SessionID string         `json:"session_id"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Attempts  int            `json:"attempts"`
	Successes int            `json:"successes"`
	Failures  int            `json:"failures"`
	Custom    map[string]any `json:"custom,omitempty"`
}

// Duration is the wall time between StartTime and EndTime.
func (m *ExecutionMetrics) Duration() time.Duration {
	return m.EndTime.Sub(m.StartTime)
}

// ExecutionResult is the terminal artifact of a session. It is written exactly once.
type ExecutionResult struct {
	SessionID      string    `json:"session_id"`
	Success        bool      `json:"success"`
	Payload        any       `json:"payload,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	CompletionTime time.Time `json:"completion_time"`
}

// Finalization is the atomic terminal write: phase, annotations, result and metrics together.
type Finalization struct {
	SessionID string
	Phase     Phase
	PhaseData map[string]any
	Result    *ExecutionResult
	Metrics   *ExecutionMetrics
}

// MigrationOutcome describes what an ownership migration did.
type MigrationOutcome string

const (
	// MigrationApplied means the owner was rewritten by this call.
	MigrationApplied MigrationOutcome = "applied"
	// MigrationNoop means the session was already owned by the destination.
	MigrationNoop MigrationOutcome = "noop"
)
