package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/stratum"
	"github.com/aretw0/stratum/pkg/adapters/memory"
	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	coordinator *stratum.Coordinator
	locker      *memory.Locker
	store       *memory.Store
	handler     http.Handler
}

func setup(t *testing.T) *fixture {
	t.Helper()
	locker := memory.NewLocker(nil)
	store := memory.NewStore()

	allocator := ports.AllocatorFunc(func(ctx context.Context, sessionID, strategyID string, input map[string]any) (*domain.WorkAllocation, error) {
		return &domain.WorkAllocation{SessionID: sessionID, WorkerType: "test", AssignedNodeID: "node-a"}, nil
	})
	pipeline := ports.PipelineFunc(func(ctx context.Context, req ports.ExecutionRequest) (any, error) {
		if req.Context["fail"] == true {
			return nil, errors.New("model unavailable")
		}
		return map[string]any{"answer": req.Context["prompt"]}, nil
	})

	c := stratum.New(locker, store, allocator, pipeline, stratum.WithNodeID("node-a"), stratum.WithCacheTTL(0))
	t.Cleanup(func() { c.Close() })

	return &fixture{
		coordinator: c,
		locker:      locker,
		store:       store,
		handler:     NewHandler(c, WithVersion("1.2.3\n")),
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestExecute(t *testing.T) {
	f := setup(t)

	t.Run("Success", func(t *testing.T) {
		w := f.do(t, "POST", "/strategies/policy-gen-42/execute", `{"context":{"prompt":"hi"}}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		result := decodeBody[domain.ExecutionResult](t, w)
		assert.True(t, result.Success)
		assert.Equal(t, map[string]any{"answer": "hi"}, result.Payload)

		w = f.do(t, "GET", "/sessions/"+result.SessionID, "")
		require.Equal(t, http.StatusOK, w.Code)
		session := decodeBody[domain.Session](t, w)
		assert.Equal(t, domain.PhaseCompleted, session.Phase)

		w = f.do(t, "GET", "/sessions/"+result.SessionID+"/result", "")
		require.Equal(t, http.StatusOK, w.Code)

		w = f.do(t, "GET", "/sessions/"+result.SessionID+"/allocation", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "test", decodeBody[domain.WorkAllocation](t, w).WorkerType)

		w = f.do(t, "GET", "/sessions/"+result.SessionID+"/metrics", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, decodeBody[domain.ExecutionMetrics](t, w).Attempts)
	})

	t.Run("Executor Failure Is 422 With Result", func(t *testing.T) {
		w := f.do(t, "POST", "/strategies/flaky/execute", `{"context":{"fail":true}}`)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

		resp := decodeBody[ErrorResponse](t, w)
		assert.Equal(t, "execution_failed", resp.Kind)
		require.NotNil(t, resp.Result)
		assert.False(t, resp.Result.Success)
	})

	t.Run("Lock Conflict Is 409", func(t *testing.T) {
		ok, err := f.locker.TryAcquire(context.Background(), domain.StrategyLockKey("busy"), "node-b", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		w := f.do(t, "POST", "/strategies/busy/execute", "")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "conflict", decodeBody[ErrorResponse](t, w).Kind)
	})

	t.Run("Malformed Body Is 400", func(t *testing.T) {
		w := f.do(t, "POST", "/strategies/x/execute", `{"context":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSessions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	s := domain.NewSession("session-1", "strategy-1", "node-a", nil, time.Now())
	_, err := f.store.CreateSession(ctx, s)
	require.NoError(t, err)

	t.Run("List", func(t *testing.T) {
		w := f.do(t, "GET", "/sessions", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"session-1"}, decodeBody[map[string][]string](t, w)["sessions"])

		w = f.do(t, "GET", "/sessions?node=node-z", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, decodeBody[map[string][]string](t, w)["sessions"])
	})

	t.Run("Not Found Is 404", func(t *testing.T) {
		w := f.do(t, "GET", "/sessions/ghost", "")
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = f.do(t, "GET", "/sessions/ghost/result", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Migrate", func(t *testing.T) {
		w := f.do(t, "POST", "/sessions/session-1/migrate", `{"from":"node-a","to":"node-b"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "applied", decodeBody[map[string]string](t, w)["outcome"])

		w = f.do(t, "POST", "/sessions/session-1/migrate", `{"from":"node-c","to":"node-d"}`)
		assert.Equal(t, http.StatusConflict, w.Code)

		w = f.do(t, "POST", "/sessions/session-1/migrate", `{"to":"node-d"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Drain", func(t *testing.T) {
		w := f.do(t, "POST", "/nodes/node-b/drain", `{"to":"node-a"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decodeBody[DrainResponse](t, w)
		assert.Equal(t, domain.MigrationApplied, resp.Outcomes["session-1"])
		assert.Empty(t, resp.Errors)
	})

	t.Run("Cancel", func(t *testing.T) {
		w := f.do(t, "POST", "/sessions/session-1/cancel", `{"reason":"operator"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = f.do(t, "POST", "/sessions/session-1/cancel", "")
		assert.Equal(t, http.StatusConflict, w.Code, "a terminal session cannot be cancelled again")

		w = f.do(t, "GET", "/sessions/session-1", "")
		require.Equal(t, http.StatusOK, w.Code)
		session := decodeBody[domain.Session](t, w)
		assert.Equal(t, domain.PhaseCancelled, session.Phase)
		assert.Equal(t, "operator", session.PhaseData[domain.KeyCancelReason])
	})
}

func TestCleanup(t *testing.T) {
	f := setup(t)

	_, err := f.store.CreateSession(context.Background(), domain.NewSession("idle", "s", "node-a", nil, time.Now()))
	require.NoError(t, err)

	w := f.do(t, "POST", "/cleanup", `{"inactive_for":"1h"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "active", string(decodeBody[CleanupResponse](t, w).Outcomes["idle"]))

	w = f.do(t, "POST", "/cleanup", `{"inactive_for":"soon"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthInfoMetrics(t *testing.T) {
	f := setup(t)

	w := f.do(t, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, "GET", "/info", "")
	require.Equal(t, http.StatusOK, w.Code)
	info := decodeBody[map[string]string](t, w)
	assert.Equal(t, "1.2.3", info["version"])
	assert.Equal(t, "node-a", info["node_id"])

	f.do(t, "POST", "/strategies/counted/execute", "")
	w = f.do(t, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "stratum_sessions_total")
}

func TestSubscribeEvents_Session(t *testing.T) {
	f := setup(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wSub := httptest.NewRecorder()
	reqSub := httptest.NewRequest("GET", "/events?type=session_completed", nil).WithContext(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.handler.ServeHTTP(wSub, reqSub)
	}()

	time.Sleep(100 * time.Millisecond) // Wait for subscription to register

	w := f.do(t, "POST", "/strategies/streamed/execute", `{"context":{"prompt":"x"}}`)
	require.Equal(t, http.StatusOK, w.Code)

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	output := wSub.Body.String()
	assert.Contains(t, output, "event: ping")
	assert.Contains(t, output, "event: session_completed")
	assert.NotContains(t, output, "event: phase_updated", "the type filter drops other events")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrConflict, http.StatusConflict},
		{domain.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{domain.ErrValidationFailed, http.StatusUnprocessableEntity},
		{domain.ErrExecutionFailed, http.StatusUnprocessableEntity},
		{domain.ErrSessionNotFound, http.StatusNotFound},
		{domain.ErrMigrationConflict, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}
