package domain

import (
	"errors"
	"fmt"
)

// Error classes. Callers test for them with errors.Is.
var (
	// ErrConflict is returned when another instance already holds the strategy lock.
	// Callers should not retry immediately.
	ErrConflict = errors.New("strategy is already being processed")

	// ErrStoreUnavailable wraps transient failures of the shared store. Safe to retry with backoff.
	ErrStoreUnavailable = errors.New("session store unavailable")

	// ErrExecutionFailed is returned when a domain collaborator failed.
	ErrExecutionFailed = errors.New("strategy execution failed")

	// ErrValidationFailed is returned when a result failed its post-conditions.
	ErrValidationFailed = errors.New("strategy result failed validation")

	// ErrMigrationConflict is returned when the stored owner does not match the expected source.
	ErrMigrationConflict = errors.New("session owner does not match migration source")
)

var (
	// ErrSessionNotFound is returned when a session ID cannot be found in the store.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNotFound is returned when a session artifact (allocation, result, metrics) is absent.
	ErrNotFound = errors.New("artifact not found")

	// ErrIllegalTransition is returned when a phase write is not in the transition whitelist.
	ErrIllegalTransition = errors.New("illegal phase transition")

	// ErrSessionCancelled is returned when a session was cancelled while it was being advanced.
	ErrSessionCancelled = errors.New("session was cancelled")

	// ErrLockNotHeld is returned when releasing or renewing a lock owned by someone else.
	ErrLockNotHeld = errors.New("lock is not held by this owner")

	// ErrInvalidLockTTL is returned when a lock is requested or renewed with a non-positive lease.
	ErrInvalidLockTTL = errors.New("lock ttl must be positive")
)

// PhaseError ties a failure to the session phase where it happened.
// It matches both its Kind and its cause through errors.Is.
type PhaseError struct {
	Kind      error
	SessionID string
	Phase     Phase
	Err       error
}

func (e *PhaseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v (session %s, phase %s)", e.Kind, e.SessionID, e.Phase)
	}
	return fmt.Sprintf("%v (session %s, phase %s): %v", e.Kind, e.SessionID, e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewPhaseError builds a PhaseError.
func NewPhaseError(kind error, sessionID string, phase Phase, err error) *PhaseError {
	return &PhaseError{Kind: kind, SessionID: sessionID, Phase: phase, Err: err}
}

// StoreUnavailable wraps a backend failure of the named store operation.
func StoreUnavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// Classify returns the taxonomy class name of err, or "" for nil.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrValidationFailed):
		return "validation_failed"
	case errors.Is(err, ErrExecutionFailed):
		return "execution_failed"
	case errors.Is(err, ErrMigrationConflict):
		return "migration_conflict"
	case errors.Is(err, ErrSessionCancelled):
		return "cancelled"
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrIllegalTransition):
		return "illegal_transition"
	default:
		return "internal"
	}
}
