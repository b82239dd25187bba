package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/stratum/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// Locker implements ports.Locker using Redis.
type Locker struct {
	client backend.UniversalClient
	prefix string
}

// NewLocker creates a new Redis locker.
func NewLocker(client backend.UniversalClient, prefix string) *Locker {
	return &Locker{
		client: client,
		prefix: prefix,
	}
}

// TryAcquire takes the lock with SET NX PX. The value is the owner token, checked on
// release and renewal. A non-positive ttl is rejected: go-redis would send it as a
// plain SET NX and the lock would never expire.
func (l *Locker) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("%w: %s", domain.ErrInvalidLockTTL, ttl)
	}
	ok, err := l.client.SetNX(ctx, l.prefix+key, owner, ttl).Result()
	if err != nil {
		return false, domain.StoreUnavailable("acquire lock", err)
	}
	return ok, nil
}

// Release deletes the lock if owner still holds it.
func (l *Locker) Release(ctx context.Context, key, owner string) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.prefix + key}, owner).Int()
	if err != nil {
		return domain.StoreUnavailable("release lock", err)
	}
	if n == 0 {
		return domain.ErrLockNotHeld
	}
	return nil
}

// Renew extends the lock if owner still holds it.
func (l *Locker) Renew(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("%w: %s", domain.ErrInvalidLockTTL, ttl)
	}
	n, err := renewScript.Run(ctx, l.client, []string{l.prefix + key}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, domain.StoreUnavailable("renew lock", err)
	}
	return n == 1, nil
}
