package ports

import (
	"context"
	"time"

	"github.com/aretw0/stratum/pkg/domain"
)

// SessionStore defines the interface for the shared, durable session state.
// Every mutation is a single atomic primitive; callers never read-modify-write.
type SessionStore interface {
	SessionRepository
	ArtifactRepository
	SessionIndex
}

// SessionRepository persists the session state machine.
type SessionRepository interface {
	// CreateSession writes metadata and state atomically if neither exists.
	// Returns false when the session ID is already taken.
	CreateSession(ctx context.Context, session *domain.Session) (bool, error)

	// UpdateState moves the session to phase and merges phaseData, if the session exists
	// and the transition is in the whitelist. Returns false when the write was rejected.
	UpdateState(ctx context.Context, sessionID string, phase domain.Phase, phaseData map[string]any) (bool, error)

	// Finalize writes a terminal phase together with the result and metrics.
	// The result is only written if none exists yet.
	Finalize(ctx context.Context, f domain.Finalization) (bool, error)

	// Abandon cancels a non-terminal session whose last update is older than cutoff,
	// recording reason and a failed result. Returns false if the session was still active.
	Abandon(ctx context.Context, sessionID string, cutoff time.Time, reason string) (bool, error)

	// GetState returns the current session. Returns domain.ErrSessionNotFound if absent.
	GetState(ctx context.Context, sessionID string) (*domain.Session, error)

	// SyncAcrossNodes invalidates every node's cached view of the session.
	SyncAcrossNodes(ctx context.Context, sessionID string) error
}

// ArtifactRepository persists the artifacts produced by a session.
// Accessors return domain.ErrNotFound when the artifact is absent.
type ArtifactRepository interface {
	StoreAllocation(ctx context.Context, alloc *domain.WorkAllocation) error
	GetAllocation(ctx context.Context, sessionID string) (*domain.WorkAllocation, error)

	// StoreResult writes the result if none exists. Returns false if one was already stored.
	StoreResult(ctx context.Context, result *domain.ExecutionResult) (bool, error)
	GetResult(ctx context.Context, sessionID string) (*domain.ExecutionResult, error)

	RecordMetrics(ctx context.Context, metrics *domain.ExecutionMetrics) error
	GetMetrics(ctx context.Context, sessionID string) (*domain.ExecutionMetrics, error)
}

// SessionIndex answers membership queries used by migration and cleanup.
type SessionIndex interface {
	ListActiveSessions(ctx context.Context) ([]string, error)
	ListActiveSessionsByNode(ctx context.Context, nodeID string) ([]string, error)

	// MigrateOwner moves ownership from one node to another if the stored owner is from.
	// Returns domain.MigrationNoop if the owner already is to, and
	// domain.ErrMigrationConflict if it is neither.
	MigrateOwner(ctx context.Context, sessionID, from, to string) (domain.MigrationOutcome, error)

	// PruneActive drops sessionID from every index without touching its state.
	// Cleanup uses it for members whose session state already expired.
	PruneActive(ctx context.Context, sessionID string) error
}

// InvalidationSource is implemented by stores that can notify about changes made on other nodes.
type InvalidationSource interface {
	// Invalidations streams the IDs of sessions whose cached view must be dropped.
	// The channel is closed when ctx is done.
	Invalidations(ctx context.Context) (<-chan string, error)
}
