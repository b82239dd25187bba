package migration_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/stratum/pkg/adapters/memory"
	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/events"
	"github.com/aretw0/stratum/pkg/migration"
	"github.com/aretw0/stratum/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func create(t *testing.T, store ports.SessionStore, id, node string, now time.Time) {
	t.Helper()
	ok, err := store.CreateSession(context.Background(), domain.NewSession(id, "st-"+id, node, nil, now))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMigrate_Idempotent(t *testing.T) {
	store := memory.NewStore()
	bus := events.NewBus()
	feed, unsub := bus.Subscribe("")
	defer unsub()

	invalidations, err := store.Invalidations(t.Context())
	require.NoError(t, err)

	m := migration.NewMigrator(store, migration.WithMigratorPublisher(bus), migration.WithMigratorNodeID("node-ops"))
	ctx := context.Background()
	create(t, store, "s1", "node-a", time.Now())

	outcome, err := m.Migrate(ctx, "s1", "node-a", "node-b")
	require.NoError(t, err)
	assert.Equal(t, domain.MigrationApplied, outcome)

	select {
	case id := <-invalidations:
		assert.Equal(t, "s1", id)
	case <-time.After(time.Second):
		t.Fatal("migration did not invalidate caches")
	}
	ev := <-feed
	assert.Equal(t, domain.EventSessionMigrated, ev.Type)
	assert.Equal(t, "node-b", ev.Payload["to"])

	outcome, err = m.Migrate(ctx, "s1", "node-a", "node-b")
	require.NoError(t, err)
	assert.Equal(t, domain.MigrationNoop, outcome)
	assert.Empty(t, feed, "a no-op migration publishes nothing")

	_, err = m.Migrate(ctx, "s1", "node-x", "node-y")
	assert.ErrorIs(t, err, domain.ErrMigrationConflict)

	_, err = m.Migrate(ctx, "s1", "node-b", "node-b")
	assert.Error(t, err)

	s, err := store.GetState(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "node-b", s.OwnerNodeID)
}

func TestMigrate_TerminalSessionStaysOutOfIndex(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	create(t, store, "s1", "node-a", time.Now())
	_, err := store.Finalize(ctx, domain.Finalization{SessionID: "s1", Phase: domain.PhaseFailed})
	require.NoError(t, err)

	outcome, err := migration.NewMigrator(store).Migrate(ctx, "s1", "node-a", "node-b")
	require.NoError(t, err)
	assert.Equal(t, domain.MigrationApplied, outcome)

	ids, err := store.ListActiveSessionsByNode(ctx, "node-b")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDrainNode(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	now := time.Now()
	for _, id := range []string{"s1", "s2", "s3"} {
		create(t, store, id, "node-a", now)
	}
	create(t, store, "s4", "node-c", now)

	report, err := migration.NewMigrator(store, migration.WithMigratorConcurrency(2)).DrainNode(ctx, "node-a", "node-b")
	require.NoError(t, err)
	assert.NoError(t, report.Err())
	assert.Len(t, report.Outcomes, 3)
	for _, outcome := range report.Outcomes {
		assert.Equal(t, domain.MigrationApplied, outcome)
	}

	left, err := store.ListActiveSessionsByNode(ctx, "node-a")
	require.NoError(t, err)
	assert.Empty(t, left)
	moved, err := store.ListActiveSessionsByNode(ctx, "node-b")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3"}, moved)
}

// conflictingStore reports a conflict for one session.
type conflictingStore struct {
	ports.SessionStore
	victim string
}

func (s conflictingStore) MigrateOwner(ctx context.Context, id, from, to string) (domain.MigrationOutcome, error) {
	if id == s.victim {
		return "", domain.ErrMigrationConflict
	}
	return s.SessionStore.MigrateOwner(ctx, id, from, to)
}

func TestDrainNode_ReportsFailures(t *testing.T) {
	base := memory.NewStore()
	ctx := context.Background()
	create(t, base, "s1", "node-a", time.Now())
	create(t, base, "s2", "node-a", time.Now())

	report, err := migration.NewMigrator(conflictingStore{base, "s2"}).DrainNode(ctx, "node-a", "node-b")
	require.NoError(t, err)
	assert.Equal(t, domain.MigrationApplied, report.Outcomes["s1"])
	assert.ErrorIs(t, report.Errors["s2"], domain.ErrMigrationConflict)
	assert.ErrorIs(t, report.Err(), domain.ErrMigrationConflict)
}

func TestCleanup_ReclaimsIdleSessions(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := memory.NewStore(memory.WithClock(c.Now))
	ctx := context.Background()

	create(t, store, "idle", "node-a", c.Now())
	ok, err := store.UpdateState(ctx, "idle", domain.PhasePlanning, nil)
	require.NoError(t, err)
	require.True(t, ok)

	c.Advance(2 * time.Hour)
	create(t, store, "fresh", "node-a", c.Now())

	bus := events.NewBus()
	feed, unsub := bus.Subscribe("")
	defer unsub()

	cleaner := migration.NewCleaner(store,
		migration.WithCleanerClock(c.Now),
		migration.WithCleanerPublisher(bus),
	)
	report, err := cleaner.Cleanup(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, report.Errors)
	assert.Equal(t, migration.OutcomeAbandoned, report.Outcomes["idle"])
	assert.Equal(t, migration.OutcomeActive, report.Outcomes["fresh"])
	assert.Equal(t, 1, report.Count(migration.OutcomeAbandoned))

	s, err := store.GetState(ctx, "idle")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCancelled, s.Phase)
	assert.Equal(t, true, s.PhaseData[domain.KeyAbandoned])
	assert.Contains(t, s.PhaseData[domain.KeyAbandonedReason], "1h0m0s")

	result, err := store.GetResult(ctx, "idle")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "abandoned", result.ErrorKind)

	active, err := store.ListActiveSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, active)

	ev := <-feed
	assert.Equal(t, domain.EventSessionCleaned, ev.Type)
	assert.Equal(t, "idle", ev.SessionID)

	// A second pass finds nothing left to reclaim.
	report, err = cleaner.Cleanup(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Count(migration.OutcomeAbandoned))
}

func TestCleanup_PrunesExpiredMembers(t *testing.T) {
	c := &clock{now: time.Now()}
	store := memory.NewStore(memory.WithClock(c.Now), memory.WithSessionTTL(time.Minute))
	ctx := context.Background()
	create(t, store, "gone", "node-a", c.Now())

	c.Advance(2 * time.Minute)

	report, err := migration.NewCleaner(store, migration.WithCleanerClock(c.Now)).Cleanup(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, migration.OutcomePruned, report.Outcomes["gone"])

	active, err := store.ListActiveSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	byNode, err := store.ListActiveSessionsByNode(ctx, "node-a")
	require.NoError(t, err)
	assert.Empty(t, byNode)
}

// brokenStore fails every listing.
type brokenStore struct {
	ports.SessionStore
}

func (brokenStore) ListActiveSessions(ctx context.Context) ([]string, error) {
	return []string{}, domain.StoreUnavailable("list active sessions", errors.New("timeout"))
}

func TestCleanup_Errors(t *testing.T) {
	_, err := migration.NewCleaner(brokenStore{memory.NewStore()}).Cleanup(context.Background(), time.Hour)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	_, err = migration.NewCleaner(memory.NewStore()).Cleanup(context.Background(), 0)
	assert.Error(t, err)
}

func TestJanitor_RunsUntilCancelled(t *testing.T) {
	c := &clock{now: time.Now()}
	store := memory.NewStore(memory.WithClock(c.Now))
	create(t, store, "s1", "node-a", c.Now())
	c.Advance(time.Hour)

	reports := make(chan *migration.CleanupReport, 16)
	cleaner := migration.NewCleaner(store, migration.WithCleanerClock(c.Now))
	janitor := migration.NewJanitor(cleaner, 10*time.Millisecond, time.Minute,
		migration.WithReportHandler(func(r *migration.CleanupReport) { reports <- r }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- janitor.Run(ctx) }()

	first := <-reports
	assert.Equal(t, migration.OutcomeAbandoned, first.Outcomes["s1"])
	<-reports

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestJanitor_RejectsNonPositiveInterval(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Second} {
		t.Run(interval.String(), func(t *testing.T) {
			cleaner := migration.NewCleaner(memory.NewStore())
			janitor := migration.NewJanitor(cleaner, interval, time.Minute)

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			assert.ErrorIs(t, janitor.Run(ctx), migration.ErrInvalidInterval)
		})
	}
}
