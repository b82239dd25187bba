package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aretw0/stratum/pkg/domain"
)

type lease struct {
	owner     string
	expiresAt time.Time
}

// Locker implements ports.Locker for a single process.
type Locker struct {
	mu    sync.Mutex
	locks map[string]lease
	now   func() time.Time
}

// NewLocker creates an in-memory locker. A nil clock defaults to time.Now.
func NewLocker(now func() time.Time) *Locker {
	if now == nil {
		now = time.Now
	}
	return &Locker{
		locks: make(map[string]lease),
		now:   now,
	}
}

// TryAcquire takes the lock if it is absent or expired.
func (l *Locker) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("%w: %s", domain.ErrInvalidLockTTL, ttl)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.locks[key]; ok && now.Before(held.expiresAt) {
		return false, nil
	}
	l.locks[key] = lease{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

// Release deletes the lock if owner still holds it.
func (l *Locker) Release(ctx context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	held, ok := l.locks[key]
	if !ok || held.owner != owner || !l.now().Before(held.expiresAt) {
		return domain.ErrLockNotHeld
	}
	delete(l.locks, key)
	return nil
}

// Renew extends a lock still held by owner.
func (l *Locker) Renew(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("%w: %s", domain.ErrInvalidLockTTL, ttl)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	held, ok := l.locks[key]
	if !ok || held.owner != owner || !now.Before(held.expiresAt) {
		return false, nil
	}
	l.locks[key] = lease{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

// Held reports whether key is currently locked, and by whom.
func (l *Locker) Held(key string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	held, ok := l.locks[key]
	if !ok || !l.now().Before(held.expiresAt) {
		return "", false
	}
	return held.owner, true
}
