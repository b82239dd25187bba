package domain

// Phase is a named step in the session state machine.
type Phase string

const (
	PhaseInitialized   Phase = "INITIALIZED"
	PhasePlanning      Phase = "PLANNING"
	PhaseLabAllocation Phase = "LAB_ALLOCATION"
	PhaseExecuting     Phase = "EXECUTING"
	PhaseValidating    Phase = "VALIDATING"
	PhaseCompleted     Phase = "COMPLETED"
	PhaseFailed        Phase = "FAILED"
	PhaseCancelled     Phase = "CANCELLED"
)

// Phases lists every phase in forward order. Terminal phases come last.
var Phases = []Phase{
	PhaseInitialized,
	PhasePlanning,
	PhaseLabAllocation,
	PhaseExecuting,
	PhaseValidating,
	PhaseCompleted,
	PhaseFailed,
	PhaseCancelled,
}

// forward holds the single "next" phase of each working phase.
var forward = map[Phase]Phase{
	PhaseInitialized:   PhasePlanning,
	PhasePlanning:      PhaseLabAllocation,
	PhaseLabAllocation: PhaseExecuting,
	PhaseExecuting:     PhaseValidating,
	PhaseValidating:    PhaseCompleted,
}

// IsTerminal reports whether no further phase writes are permitted after p.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

// IsValid reports whether p is a known phase.
func (p Phase) IsValid() bool {
	for _, known := range Phases {
		if p == known {
			return true
		}
	}
	return false
}

// Next returns the forward successor of p, if any.
func (p Phase) Next() (Phase, bool) {
	next, ok := forward[p]
	return next, ok
}

func (p Phase) String() string {
	return string(p)
}

// CanTransition reports whether moving a session from one phase to another is legal.
//
// The whitelist is:
//   - the forward chain INITIALIZED → PLANNING → LAB_ALLOCATION → EXECUTING → VALIDATING → COMPLETED;
//   - re-entry of a working phase (PLANNING..VALIDATING) to record a retry;
//   - FAILED and CANCELLED from any non-terminal phase.
//
// Nothing leaves a terminal phase.
func CanTransition(from, to Phase) bool {
	if from.IsTerminal() || !from.IsValid() || !to.IsValid() {
		return false
	}
	if to == PhaseFailed || to == PhaseCancelled {
		return true
	}
	if next, ok := forward[from]; ok && next == to {
		return true
	}
	return from == to && from != PhaseInitialized
}

// Predecessors returns every phase from which a transition to p is legal.
// Stores use it to evaluate the whitelist inside a single conditional write.
func Predecessors(p Phase) []Phase {
	var out []Phase
	for _, from := range Phases {
		if CanTransition(from, p) {
			out = append(out, from)
		}
	}
	return out
}
