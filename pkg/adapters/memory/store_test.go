package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/stratum/pkg/adapters/memory"
	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunSessionStoreContract(t, store)
}

func TestMemoryStore_LastUpdateTimeIsMonotonic(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore(memory.WithClock(clock.Now))
	ctx := context.Background()

	s := domain.NewSession("s1", "st", "n1", nil, clock.Now())
	created, err := store.CreateSession(ctx, s)
	require.NoError(t, err)
	require.True(t, created)

	clock.Advance(time.Minute)
	ok, err := store.UpdateState(ctx, "s1", domain.PhasePlanning, nil)
	require.NoError(t, err)
	require.True(t, ok)

	// A node with a skewed clock writes "in the past".
	clock.Set(time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC))
	ok, err = store.UpdateState(ctx, "s1", domain.PhaseLabAllocation, nil)
	require.NoError(t, err)
	require.True(t, ok)

	loaded, err := store.GetState(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 12, 1, 0, 0, time.UTC), loaded.LastUpdateTime)
}

func TestMemoryStore_TTL_Expiration(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := memory.NewStore(
		memory.WithClock(clock.Now),
		memory.WithSessionTTL(time.Minute),
		memory.WithResultTTL(time.Hour),
	)
	ctx := context.Background()

	s := domain.NewSession("s-ttl", "st", "n1", nil, clock.Now())
	_, err := store.CreateSession(ctx, s)
	require.NoError(t, err)
	_, err = store.StoreResult(ctx, &domain.ExecutionResult{SessionID: "s-ttl", Success: true})
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	_, err = store.GetState(ctx, "s-ttl")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = store.GetResult(ctx, "s-ttl")
	assert.NoError(t, err, "results outlive sessions")

	// The index keeps the member until cleanup prunes it.
	active, err := store.ListActiveSessions(ctx)
	require.NoError(t, err)
	assert.Contains(t, active, "s-ttl")
}

func TestMemoryStore_TransitionRefreshesAllocationTTL(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := memory.NewStore(memory.WithClock(clock.Now), memory.WithSessionTTL(10*time.Second))
	ctx := context.Background()

	_, err := store.CreateSession(ctx, domain.NewSession("s1", "st", "n", nil, clock.Now()))
	require.NoError(t, err)
	require.NoError(t, store.StoreAllocation(ctx, &domain.WorkAllocation{SessionID: "s1", WorkerType: "gpu"}))

	clock.Advance(8 * time.Second)
	ok, err := store.UpdateState(ctx, "s1", domain.PhasePlanning, nil)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(5 * time.Second)
	alloc, err := store.GetAllocation(ctx, "s1")
	require.NoError(t, err, "allocation and session share the session TTL")
	assert.Equal(t, "gpu", alloc.WorkerType)

	clock.Advance(6 * time.Second)
	_, err = store.GetAllocation(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStore_FinalizeCopiesCustomMetrics(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	_, err := store.CreateSession(ctx, domain.NewSession("s1", "st", "n", nil, time.Now()))
	require.NoError(t, err)

	custom := map[string]any{"tokens": 42}
	ok, err := store.Finalize(ctx, domain.Finalization{
		SessionID: "s1",
		Phase:     domain.PhaseCancelled,
		Metrics:   &domain.ExecutionMetrics{SessionID: "s1", Attempts: 1, Custom: custom},
	})
	require.NoError(t, err)
	require.True(t, ok)

	custom["tokens"] = 0
	custom["leaked"] = true

	m, err := store.GetMetrics(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"tokens": 42}, m.Custom)
}

func TestMemoryStore_Invalidations(t *testing.T) {
	store := memory.NewStore()
	ctx, cancel := context.WithCancel(context.Background())

	feed, err := store.Invalidations(ctx)
	require.NoError(t, err)

	require.NoError(t, store.SyncAcrossNodes(ctx, "s1"))
	select {
	case id := <-feed:
		assert.Equal(t, "s1", id)
	case <-time.After(time.Second):
		t.Fatal("invalidation not delivered")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-feed
		return !open
	}, time.Second, 10*time.Millisecond)
}
