package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/stratum"
	"github.com/aretw0/stratum/pkg/adapters/memory"
	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/ports"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	allocator := ports.AllocatorFunc(func(ctx context.Context, sessionID, strategyID string, input map[string]any) (*domain.WorkAllocation, error) {
		return &domain.WorkAllocation{SessionID: sessionID, WorkerType: "test"}, nil
	})
	pipeline := ports.PipelineFunc(func(ctx context.Context, req ports.ExecutionRequest) (any, error) {
		if req.Context["fail"] == true {
			return nil, errors.New("worker crashed")
		}
		return "done", nil
	})
	c := stratum.New(memory.NewLocker(nil), store, allocator, pipeline, stratum.WithCacheTTL(0))
	t.Cleanup(func() { c.Close() })
	return NewServer(c, "0.1.0\n"), store
}

func TestExecuteStrategy(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		resp, err := s.handleExecute(ctx, mcp.CallToolRequest{}, map[string]interface{}{
			"strategy_id": "summarize",
			"context":     `{"prompt":"hi"}`,
		})
		require.NoError(t, err)
		require.NotNil(t, resp.Result)
		assert.True(t, resp.Result.Success)
		assert.Equal(t, "done", resp.Result.Payload)
		assert.Empty(t, resp.Error)
	})

	t.Run("Failure Is Part Of The Answer", func(t *testing.T) {
		resp, err := s.handleExecute(ctx, mcp.CallToolRequest{}, map[string]interface{}{
			"strategy_id": "summarize",
			"context":     `{"fail":true}`,
		})
		require.NoError(t, err)
		require.NotNil(t, resp.Result)
		assert.False(t, resp.Result.Success)
		assert.Equal(t, "execution_failed", resp.Kind)
	})

	t.Run("Invalid Context", func(t *testing.T) {
		_, err := s.handleExecute(ctx, mcp.CallToolRequest{}, map[string]interface{}{
			"strategy_id": "summarize",
			"context":     `not json`,
		})
		assert.Error(t, err)
	})

	t.Run("Missing Strategy", func(t *testing.T) {
		_, err := s.handleExecute(ctx, mcp.CallToolRequest{}, map[string]interface{}{})
		assert.Error(t, err)
	})
}

func TestSessionTools(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()

	_, err := store.CreateSession(ctx, domain.NewSession("session-1", "strategy-1", "node-a", nil, time.Now()))
	require.NoError(t, err)

	list, err := s.handleList(ctx, mcp.CallToolRequest{}, map[string]interface{}{"node_id": "node-a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"session-1"}, list.Sessions)

	contents, err := s.readActiveSessions(ctx, mcp.ReadResourceRequest{})
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	var listed ListResponse
	require.NoError(t, json.Unmarshal([]byte(text.Text), &listed))
	assert.Equal(t, []string{"session-1"}, listed.Sessions)

	inspected, err := s.handleInspect(ctx, mcp.CallToolRequest{}, map[string]interface{}{"session_id": "session-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseInitialized, inspected.Session.Phase)
	assert.Nil(t, inspected.Result)

	cancelled, err := s.handleCancel(ctx, mcp.CallToolRequest{}, map[string]interface{}{"session_id": "session-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCancelled, cancelled.Phase)

	inspected, err = s.handleInspect(ctx, mcp.CallToolRequest{}, map[string]interface{}{"session_id": "session-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCancelled, inspected.Session.Phase)
	require.NotNil(t, inspected.Result)
	assert.Equal(t, "cancelled", inspected.Result.ErrorKind)

	_, err = s.handleCancel(ctx, mcp.CallToolRequest{}, map[string]interface{}{"session_id": "session-1"})
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)

	_, err = s.handleInspect(ctx, mcp.CallToolRequest{}, map[string]interface{}{"session_id": "ghost"})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
