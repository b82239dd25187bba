package ports

import (
	"context"
	"time"
)

// Locker defines the interface for distributed concurrency control.
// It allows the Orchestrator to guarantee that a single node processes a strategy at a time.
type Locker interface {
	// TryAcquire attempts to take the lock for key on behalf of owner.
	// It never blocks: it returns false immediately when another owner holds an unexpired lock.
	TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// Release deletes the lock only if it is still held by owner.
	// Returns domain.ErrLockNotHeld when the lock expired or belongs to someone else.
	Release(ctx context.Context, key, owner string) error

	// Renew extends the TTL of a lock still held by owner.
	// Locks are never renewed automatically.
	Renew(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
}
