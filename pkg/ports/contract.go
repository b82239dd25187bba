package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/stratum/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSessionStoreContract runs a suite of tests to verify that a SessionStore implementation
// adheres to the defined interface contract.
func RunSessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()
	prefix := "contract-" + time.Now().Format("20060102150405.000000") + "-"
	node := "node-a"

	create := func(t *testing.T, id string) *domain.Session {
		t.Helper()
		s := domain.NewSession(prefix+id, "strategy-"+id, node, map[string]any{"prompt": "generate"}, time.Now())
		created, err := store.CreateSession(ctx, s)
		require.NoError(t, err)
		require.True(t, created, "CreateSession should create a fresh session")
		return s
	}

	advance := func(t *testing.T, id string, phases ...domain.Phase) {
		t.Helper()
		for _, p := range phases {
			ok, err := store.UpdateState(ctx, id, p, nil)
			require.NoError(t, err)
			require.True(t, ok, "transition to %s should be applied", p)
		}
	}

	t.Run("Create and Get", func(t *testing.T) {
		s := create(t, "create")

		again, err := store.CreateSession(ctx, s)
		require.NoError(t, err)
		assert.False(t, again, "CreateSession must not overwrite an existing session")

		loaded, err := store.GetState(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, s.ID, loaded.ID)
		assert.Equal(t, s.StrategyID, loaded.StrategyID)
		assert.Equal(t, domain.PhaseInitialized, loaded.Phase)
		assert.Equal(t, node, loaded.OwnerNodeID)
		assert.Equal(t, "generate", loaded.Context["prompt"])
		assert.WithinDuration(t, s.CreateTime, loaded.CreateTime, time.Second)
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.GetState(ctx, prefix+"missing")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("UpdateState follows the transition table", func(t *testing.T) {
		s := create(t, "update")

		ok, err := store.UpdateState(ctx, s.ID, domain.PhasePlanning, map[string]any{"plan.steps": "3"})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.UpdateState(ctx, s.ID, domain.PhaseCompleted, nil)
		require.NoError(t, err)
		assert.False(t, ok, "PLANNING -> COMPLETED must be rejected")

		advance(t, s.ID, domain.PhaseLabAllocation)

		ok, err = store.UpdateState(ctx, s.ID, domain.PhasePlanning, nil)
		require.NoError(t, err)
		assert.False(t, ok, "phases never move backwards")

		loaded, err := store.GetState(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PhaseLabAllocation, loaded.Phase)
		assert.Equal(t, "3", loaded.PhaseData["plan.steps"])
		assert.Contains(t, loaded.History, domain.PhasePlanning)
		assert.False(t, loaded.LastUpdateTime.Before(loaded.CreateTime))
	})

	t.Run("UpdateState on missing session", func(t *testing.T) {
		ok, err := store.UpdateState(ctx, prefix+"ghost", domain.PhasePlanning, nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("PhaseData merges and re-entry counts", func(t *testing.T) {
		s := create(t, "merge")
		advance(t, s.ID, domain.PhasePlanning, domain.PhaseLabAllocation, domain.PhaseExecuting)

		ok, err := store.UpdateState(ctx, s.ID, domain.PhaseExecuting, map[string]any{"executing.attempt": "1", "first": "kept"})
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = store.UpdateState(ctx, s.ID, domain.PhaseExecuting, map[string]any{"executing.attempt": "2"})
		require.NoError(t, err)
		require.True(t, ok)

		loaded, err := store.GetState(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, "2", loaded.PhaseData["executing.attempt"])
		assert.Equal(t, "kept", loaded.PhaseData["first"])
		assert.Equal(t, 3, loaded.Entries[domain.PhaseExecuting])
	})

	t.Run("Finalize is terminal and exactly once", func(t *testing.T) {
		s := create(t, "finalize")
		advance(t, s.ID, domain.PhasePlanning, domain.PhaseLabAllocation, domain.PhaseExecuting)

		now := time.Now()
		premature, err := store.Finalize(ctx, domain.Finalization{SessionID: s.ID, Phase: domain.PhaseCompleted})
		require.NoError(t, err)
		assert.False(t, premature, "COMPLETED is only reachable from VALIDATING")

		ok, err := store.Finalize(ctx, domain.Finalization{
			SessionID: s.ID,
			Phase:     domain.PhaseFailed,
			PhaseData: map[string]any{domain.KeyExecutionError: "boom"},
			Result:    &domain.ExecutionResult{SessionID: s.ID, Success: false, ErrorMessage: "boom", CompletionTime: now},
			Metrics:   &domain.ExecutionMetrics{SessionID: s.ID, StartTime: now, EndTime: now, Attempts: 1, Failures: 1},
		})
		require.NoError(t, err)
		assert.True(t, ok)

		again, err := store.Finalize(ctx, domain.Finalization{
			SessionID: s.ID,
			Phase:     domain.PhaseCancelled,
			Result:    &domain.ExecutionResult{SessionID: s.ID, Success: true},
		})
		require.NoError(t, err)
		assert.False(t, again, "a terminal session accepts no further phase writes")

		ok, err = store.UpdateState(ctx, s.ID, domain.PhaseExecuting, nil)
		require.NoError(t, err)
		assert.False(t, ok)

		loaded, err := store.GetState(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PhaseFailed, loaded.Phase)
		assert.Equal(t, "boom", loaded.PhaseData[domain.KeyExecutionError])

		result, err := store.GetResult(ctx, s.ID)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, "boom", result.ErrorMessage)

		metrics, err := store.GetMetrics(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, metrics.Failures)

		active, err := store.ListActiveSessions(ctx)
		require.NoError(t, err)
		assert.NotContains(t, active, s.ID)

		byNode, err := store.ListActiveSessionsByNode(ctx, node)
		require.NoError(t, err)
		assert.NotContains(t, byNode, s.ID)
	})

	t.Run("Active set membership", func(t *testing.T) {
		s := create(t, "active")

		active, err := store.ListActiveSessions(ctx)
		require.NoError(t, err)
		assert.Contains(t, active, s.ID)

		byNode, err := store.ListActiveSessionsByNode(ctx, node)
		require.NoError(t, err)
		assert.Contains(t, byNode, s.ID)

		ok, err := store.UpdateState(ctx, s.ID, domain.PhaseCancelled, map[string]any{domain.KeyCancelReason: "user"})
		require.NoError(t, err)
		require.True(t, ok)

		active, err = store.ListActiveSessions(ctx)
		require.NoError(t, err)
		assert.NotContains(t, active, s.ID)
	})

	t.Run("MigrateOwner is idempotent", func(t *testing.T) {
		s := create(t, "migrate")

		outcome, err := store.MigrateOwner(ctx, s.ID, node, "node-b")
		require.NoError(t, err)
		assert.Equal(t, domain.MigrationApplied, outcome)

		outcome, err = store.MigrateOwner(ctx, s.ID, node, "node-b")
		require.NoError(t, err)
		assert.Equal(t, domain.MigrationNoop, outcome)

		_, err = store.MigrateOwner(ctx, s.ID, "node-c", "node-d")
		assert.ErrorIs(t, err, domain.ErrMigrationConflict)

		_, err = store.MigrateOwner(ctx, prefix+"ghost", node, "node-b")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)

		loaded, err := store.GetState(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, "node-b", loaded.OwnerNodeID)

		fromNode, err := store.ListActiveSessionsByNode(ctx, node)
		require.NoError(t, err)
		assert.NotContains(t, fromNode, s.ID)

		toNode, err := store.ListActiveSessionsByNode(ctx, "node-b")
		require.NoError(t, err)
		assert.Contains(t, toNode, s.ID)
	})

	t.Run("Abandon only reclaims idle sessions", func(t *testing.T) {
		s := create(t, "abandon")

		ok, err := store.Abandon(ctx, s.ID, time.Now().Add(-time.Hour), "idle")
		require.NoError(t, err)
		assert.False(t, ok, "a recently updated session is not abandoned")

		ok, err = store.Abandon(ctx, s.ID, time.Now().Add(time.Hour), "idle")
		require.NoError(t, err)
		assert.True(t, ok)

		loaded, err := store.GetState(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PhaseCancelled, loaded.Phase)
		assert.Equal(t, true, loaded.PhaseData[domain.KeyAbandoned])
		assert.Equal(t, "idle", loaded.PhaseData[domain.KeyAbandonedReason])

		result, err := store.GetResult(ctx, s.ID)
		require.NoError(t, err)
		assert.False(t, result.Success)

		active, err := store.ListActiveSessions(ctx)
		require.NoError(t, err)
		assert.NotContains(t, active, s.ID)
	})

	t.Run("Artifacts", func(t *testing.T) {
		id := prefix + "artifacts"
		now := time.Now()

		_, err := store.GetAllocation(ctx, id)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = store.GetResult(ctx, id)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = store.GetMetrics(ctx, id)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		require.NoError(t, store.StoreAllocation(ctx, &domain.WorkAllocation{
			SessionID: id, WorkerType: "gpu", AssignedNodeID: node,
			AllocationData: map[string]any{"lab": "a1"}, AllocationTime: now,
		}))
		alloc, err := store.GetAllocation(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "gpu", alloc.WorkerType)
		assert.Equal(t, "a1", alloc.AllocationData["lab"])

		stored, err := store.StoreResult(ctx, &domain.ExecutionResult{SessionID: id, Success: true, Payload: "v1", CompletionTime: now})
		require.NoError(t, err)
		assert.True(t, stored)
		stored, err = store.StoreResult(ctx, &domain.ExecutionResult{SessionID: id, Success: false, ErrorMessage: "late"})
		require.NoError(t, err)
		assert.False(t, stored, "results are immutable once written")

		result, err := store.GetResult(ctx, id)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, "v1", result.Payload)

		require.NoError(t, store.RecordMetrics(ctx, &domain.ExecutionMetrics{
			SessionID: id, StartTime: now, EndTime: now.Add(time.Second), Attempts: 2, Successes: 1, Failures: 1,
		}))
		metrics, err := store.GetMetrics(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, metrics.Attempts)
	})

	t.Run("PruneActive", func(t *testing.T) {
		s := create(t, "prune")
		require.NoError(t, store.PruneActive(ctx, s.ID))

		active, err := store.ListActiveSessions(ctx)
		require.NoError(t, err)
		assert.NotContains(t, active, s.ID)

		byNode, err := store.ListActiveSessionsByNode(ctx, node)
		require.NoError(t, err)
		assert.NotContains(t, byNode, s.ID)

		_, err = store.GetState(ctx, s.ID)
		assert.NoError(t, err, "pruning keeps the session state")
	})

	t.Run("SyncAcrossNodes", func(t *testing.T) {
		s := create(t, "sync")
		assert.NoError(t, store.SyncAcrossNodes(ctx, s.ID))
	})
}
