package tests

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// LockerContractTest is a reusable test suite that verifies if an adapter complies with ports.Locker.
func LockerContractTest(t *testing.T, locker ports.Locker) {
	t.Helper()
	ctx := context.Background()
	key := domain.StrategyLockKey("contract-" + time.Now().Format("150405.000000"))

	t.Run("Acquire_Exclusive", func(t *testing.T) {
		ok, err := locker.TryAcquire(ctx, key, "owner-1", 5*time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = locker.TryAcquire(ctx, key, "owner-2", 5*time.Second)
		require.NoError(t, err)
		assert.False(t, ok, "a held lock must not be granted to another owner")

		ok, err = locker.TryAcquire(ctx, key, "owner-1", 5*time.Second)
		require.NoError(t, err)
		assert.False(t, ok, "locks are not reentrant")
	})

	t.Run("Release_OwnerChecked", func(t *testing.T) {
		err := locker.Release(ctx, key, "owner-2")
		assert.ErrorIs(t, err, domain.ErrLockNotHeld)

		ok, err := locker.TryAcquire(ctx, key, "owner-2", 5*time.Second)
		require.NoError(t, err)
		assert.False(t, ok, "a foreign release must not free the lock")

		require.NoError(t, locker.Release(ctx, key, "owner-1"))

		ok, err = locker.TryAcquire(ctx, key, "owner-2", 5*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, locker.Release(ctx, key, "owner-2"))
	})

	t.Run("Renew_OwnerOnly", func(t *testing.T) {
		ok, err := locker.TryAcquire(ctx, key, "owner-1", 5*time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		renewed, err := locker.Renew(ctx, key, "owner-2", 10*time.Second)
		require.NoError(t, err)
		assert.False(t, renewed)

		renewed, err = locker.Renew(ctx, key, "owner-1", 10*time.Second)
		require.NoError(t, err)
		assert.True(t, renewed)

		require.NoError(t, locker.Release(ctx, key, "owner-1"))

		renewed, err = locker.Renew(ctx, key, "owner-1", 10*time.Second)
		require.NoError(t, err)
		assert.False(t, renewed, "a released lock cannot be renewed")
	})

	t.Run("NonPositiveTTL_Rejected", func(t *testing.T) {
		ttlKey := domain.StrategyLockKey("ttl-" + time.Now().Format("150405.000000"))
		for _, ttl := range []time.Duration{0, -time.Second} {
			ok, err := locker.TryAcquire(ctx, ttlKey, "owner-1", ttl)
			assert.ErrorIs(t, err, domain.ErrInvalidLockTTL)
			assert.False(t, ok)
		}

		ok, err := locker.TryAcquire(ctx, ttlKey, "owner-2", 5*time.Second)
		require.NoError(t, err)
		assert.True(t, ok, "a rejected acquire must not leave a lock behind")

		renewed, err := locker.Renew(ctx, ttlKey, "owner-2", 0)
		assert.ErrorIs(t, err, domain.ErrInvalidLockTTL)
		assert.False(t, renewed)
		require.NoError(t, locker.Release(ctx, ttlKey, "owner-2"))
	})

	t.Run("Race_SingleWinner", func(t *testing.T) {
		raceKey := domain.StrategyLockKey("policy-gen-42-" + time.Now().Format("150405.000000"))
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := locker.TryAcquire(ctx, raceKey, "node-"+string(rune('a'+i)), 5*time.Second)
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load(), "exactly one contender must win the lock")
	})
}
