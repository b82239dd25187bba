package process

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/aretw0/stratum/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process tests rely on sh")
	}
}

func request(runner *Runner, t *testing.T, strategyID string, input map[string]any) ports.ExecutionRequest {
	t.Helper()
	alloc, err := runner.Allocate(context.Background(), "session-1", strategyID, input)
	require.NoError(t, err)
	return ports.ExecutionRequest{
		SessionID:  "session-1",
		StrategyID: strategyID,
		Attempt:    1,
		Context:    input,
		Allocation: alloc,
	}
}

func TestRunner_Execute(t *testing.T) {
	requireShell(t)

	runner := NewRunner(WithNodeID("node-a"))
	runner.Register("echo", "sh", "-c", "echo hello")

	t.Run("Executes Registered Command", func(t *testing.T) {
		payload, err := runner.Execute(context.Background(), request(runner, t, "echo", nil))
		require.NoError(t, err)
		assert.Equal(t, "hello", payload)
	})

	t.Run("Fails For Unregistered Strategy", func(t *testing.T) {
		_, err := runner.Execute(context.Background(), ports.ExecutionRequest{StrategyID: "hacker_script"})
		assert.ErrorIs(t, err, ErrStrategyNotRegistered)

		_, err = runner.Allocate(context.Background(), "s", "hacker_script", nil)
		assert.ErrorIs(t, err, ErrStrategyNotRegistered)
	})

	t.Run("Passes Context via Env Vars", func(t *testing.T) {
		runner.Register("echo_env", "sh", "-c", `echo "$STRATUM_ARG_MSG $STRATUM_SESSION_ID $STRATUM_ATTEMPT"`)

		payload, err := runner.Execute(context.Background(), request(runner, t, "echo_env", map[string]any{"msg": "SecretMessage"}))
		require.NoError(t, err)
		assert.Equal(t, "SecretMessage session-1 1", payload)
	})

	t.Run("Parses JSON Stdout", func(t *testing.T) {
		runner.Register("json", "sh", "-c", `echo '{"score": 0.9, "tags": ["a"]}'`)

		payload, err := runner.Execute(context.Background(), request(runner, t, "json", nil))
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"score": 0.9, "tags": []any{"a"}}, payload)
	})

	t.Run("Writes Envelope To Stdin", func(t *testing.T) {
		runner.Register("cat", "cat")

		payload, err := runner.Execute(context.Background(), request(runner, t, "cat", map[string]any{"prompt": "go"}))
		require.NoError(t, err)
		envelope, ok := payload.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "session-1", envelope["session_id"])
		assert.Equal(t, "cat", envelope["strategy_id"])
		assert.Equal(t, map[string]any{"prompt": "go"}, envelope["context"])
	})

	t.Run("Empty Stdout Yields Nil Payload", func(t *testing.T) {
		runner.Register("silent", "sh", "-c", "true")

		payload, err := runner.Execute(context.Background(), request(runner, t, "silent", nil))
		require.NoError(t, err)
		assert.Nil(t, payload)
	})

	t.Run("Non-Zero Exit Carries Stderr", func(t *testing.T) {
		runner.Register("broken", "sh", "-c", "echo kaput >&2; exit 3")

		_, err := runner.Execute(context.Background(), request(runner, t, "broken", nil))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "kaput")
	})
}

func TestRunner_Timeout(t *testing.T) {
	requireShell(t)

	runner := NewRunner(WithRegistry(map[string]StrategyConfig{
		"slow": {Command: "sleep", Args: []string{"5"}, Timeout: Duration(50 * time.Millisecond)},
	}))

	start := time.Now()
	_, err := runner.Execute(context.Background(), request(runner, t, "slow", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRunner_Allocate(t *testing.T) {
	runner := NewRunner(
		WithNodeID("node-a"),
		WithRegistry(map[string]StrategyConfig{
			"gen":   {Command: "generate", WorkerType: "gpu", Timeout: Duration(time.Minute)},
			"plain": {Command: "plain"},
		}),
	)

	t.Run("Uses Registry Defaults", func(t *testing.T) {
		alloc, err := runner.Allocate(context.Background(), "s1", "gen", nil)
		require.NoError(t, err)
		assert.Equal(t, "s1", alloc.SessionID)
		assert.Equal(t, "gpu", alloc.WorkerType)
		assert.Equal(t, "node-a", alloc.AssignedNodeID)
		assert.Equal(t, "generate", alloc.AllocationData["command"])
		assert.Equal(t, "1m0s", alloc.AllocationData["timeout"])

		alloc, err = runner.Allocate(context.Background(), "s2", "plain", nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultWorkerType, alloc.WorkerType)
		assert.NotContains(t, alloc.AllocationData, "timeout")
	})

	t.Run("Applies Overrides", func(t *testing.T) {
		alloc, err := runner.Allocate(context.Background(), "s3", "gen", map[string]any{
			OverridesKey: map[string]any{"worker_type": "cpu", "timeout": "5s"},
		})
		require.NoError(t, err)
		assert.Equal(t, "cpu", alloc.WorkerType)
		assert.Equal(t, "5s", alloc.AllocationData["timeout"])
	})

	t.Run("Rejects Unknown Overrides", func(t *testing.T) {
		_, err := runner.Allocate(context.Background(), "s4", "gen", map[string]any{
			OverridesKey: map[string]any{"command": "rm"},
		})
		assert.Error(t, err)
	})

	assert.Equal(t, []string{"gen", "plain"}, runner.Strategies())
}

func TestLoadStrategies(t *testing.T) {
	dir := t.TempDir()

	t.Run("YAML", func(t *testing.T) {
		path := filepath.Join(dir, "strategies.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
strategies:
  - name: summarize
    command: ./bin/summarize
    args: ["--fast"]
    worker_type: gpu
    timeout: 30s
    env:
      MODEL: small
  - name: incomplete
`), 0o644))

		strategies, err := LoadStrategies(path)
		require.NoError(t, err)
		require.Len(t, strategies, 1)
		s := strategies["summarize"]
		assert.Equal(t, "./bin/summarize", s.Command)
		assert.Equal(t, []string{"--fast"}, s.Args)
		assert.Equal(t, "gpu", s.WorkerType)
		assert.Equal(t, Duration(30*time.Second), s.Timeout)
		assert.Equal(t, "small", s.Environment["MODEL"])
	})

	t.Run("JSON", func(t *testing.T) {
		path := filepath.Join(dir, "strategies.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"strategies":[{"name":"x","command":"echo","timeout":"2s"}]}`), 0o644))

		strategies, err := LoadStrategies(path)
		require.NoError(t, err)
		assert.Equal(t, Duration(2*time.Second), strategies["x"].Timeout)
	})

	t.Run("Missing File", func(t *testing.T) {
		strategies, err := LoadStrategies(filepath.Join(dir, "absent.yaml"))
		require.NoError(t, err)
		assert.Empty(t, strategies)
	})

	t.Run("Invalid Duration", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("strategies:\n  - name: a\n    command: b\n    timeout: soon\n"), 0o644))

		_, err := LoadStrategies(path)
		assert.Error(t, err)
	})
}
