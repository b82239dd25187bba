package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/ports"
	"github.com/mitchellh/mapstructure"
)

// OverridesKey is the session context key holding per-invocation overrides.
const OverridesKey = "x-process"

// DefaultWorkerType is recorded when a strategy names no worker type.
const DefaultWorkerType = "process"

// ErrStrategyNotRegistered is returned for strategies missing from the registry.
var ErrStrategyNotRegistered = errors.New("strategy not registered")

// Runner implements ports.WorkAllocator and ports.Pipeline by running local processes.
// It follows a Strict Registry pattern for security (Allow-Listing): only registered
// commands run, and session context reaches them as environment and stdin, never as flags.
type Runner struct {
	registry map[string]StrategyConfig
	baseDir  string
	nodeID   string
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithRegistry populates the allow-list from a loaded config.
func WithRegistry(strategies map[string]StrategyConfig) RunnerOption {
	return func(r *Runner) {
		for name, s := range strategies {
			s.Name = name
			r.registry[name] = s
		}
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// WithNodeID sets the node recorded as AssignedNodeID of allocations.
func WithNodeID(id string) RunnerOption {
	return func(r *Runner) {
		r.nodeID = id
	}
}

// NewRunner creates a new Process Runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: make(map[string]StrategyConfig),
		nodeID:   "local",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted command to the allow-list.
func (r *Runner) Register(name string, command string, args ...string) {
	r.registry[name] = StrategyConfig{
		Name:    name,
		Command: command,
		Args:    args,
	}
}

// Strategies lists the registered strategy IDs, sorted.
func (r *Runner) Strategies() []string {
	names := make([]string, 0, len(r.registry))
	for name := range r.registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Overrides are the per-invocation settings a caller may pass under OverridesKey.
type Overrides struct {
	WorkerType string        `mapstructure:"worker_type"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

func decodeOverrides(raw any) (Overrides, error) {
	var o Overrides
	if raw == nil {
		return o, nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &o,
	})
	if err != nil {
		return o, err
	}
	if err := decoder.Decode(raw); err != nil {
		return o, fmt.Errorf("invalid %s overrides: %w", OverridesKey, err)
	}
	return o, nil
}

// Allocate implements ports.WorkAllocator. The allocation pins the command and timeout
// the EXECUTING phase will use.
func (r *Runner) Allocate(ctx context.Context, sessionID, strategyID string, input map[string]any) (*domain.WorkAllocation, error) {
	cfg, ok := r.registry[strategyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotRegistered, strategyID)
	}
	overrides, err := decodeOverrides(input[OverridesKey])
	if err != nil {
		return nil, err
	}

	workerType := cfg.WorkerType
	if overrides.WorkerType != "" {
		workerType = overrides.WorkerType
	}
	if workerType == "" {
		workerType = DefaultWorkerType
	}
	timeout := time.Duration(cfg.Timeout)
	if overrides.Timeout > 0 {
		timeout = overrides.Timeout
	}

	data := map[string]any{"command": cfg.Command}
	if timeout > 0 {
		data["timeout"] = timeout.String()
	}
	return &domain.WorkAllocation{
		SessionID:      sessionID,
		WorkerType:     workerType,
		AssignedNodeID: r.nodeID,
		AllocationData: data,
		AllocationTime: time.Now(),
	}, nil
}

// stdinEnvelope is the JSON document written to the process stdin.
type stdinEnvelope struct {
	SessionID  string         `json:"session_id"`
	StrategyID string         `json:"strategy_id"`
	Attempt    int            `json:"attempt"`
	Context    map[string]any `json:"context"`
	PhaseData  map[string]any `json:"phase_data"`
}

// Execute implements ports.Pipeline. The payload is the process stdout, parsed as JSON when
// it looks like JSON. A non-zero exit is an error carrying stderr.
func (r *Runner) Execute(ctx context.Context, req ports.ExecutionRequest) (any, error) {
	cfg, ok := r.registry[req.StrategyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotRegistered, req.StrategyID)
	}

	if req.Allocation != nil {
		if raw, ok := req.Allocation.AllocationData["timeout"].(string); ok {
			if timeout, err := time.ParseDuration(raw); err == nil && timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
		}
	}

	stdin, err := json.Marshal(stdinEnvelope{
		SessionID:  req.SessionID,
		StrategyID: req.StrategyID,
		Attempt:    req.Attempt,
		Context:    req.Context,
		PhaseData:  req.PhaseData,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal process input: %w", err)
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Dir = r.baseDir
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Env = append(cmd.Environ(), environment(cfg, req)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("process %s: %w", req.StrategyID, ctx.Err())
		}
		return nil, fmt.Errorf("process %s failed: %w: %s", req.StrategyID, err, strings.TrimSpace(stderr.String()))
	}

	return parseOutput(stdout.String()), nil
}

func environment(cfg StrategyConfig, req ports.ExecutionRequest) []string {
	env := []string{
		"STRATUM_SESSION_ID=" + req.SessionID,
		"STRATUM_STRATEGY_ID=" + req.StrategyID,
		"STRATUM_ATTEMPT=" + strconv.Itoa(req.Attempt),
	}
	for k, v := range cfg.Environment {
		env = append(env, k+"="+v)
	}
	for k, v := range req.Context {
		if k == OverridesKey {
			continue
		}
		env = append(env, fmt.Sprintf("STRATUM_ARG_%s=%s", envKey(k), envValue(v)))
	}
	return env
}

// envKey upper-cases k and replaces anything that is not a letter or digit.
func envKey(k string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, k)
}

// envValue renders primitives as is and everything else as JSON.
func envValue(v any) string {
	switch v.(type) {
	case string, int, int64, float64, bool:
		return fmt.Sprintf("%v", v)
	case nil:
		return ""
	default:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", v)
	}
}

func parseOutput(output string) any {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return nil
	}
	if (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
		var parsed any
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			return parsed
		}
	}
	return trimmed
}

var (
	_ ports.WorkAllocator = (*Runner)(nil)
	_ ports.Pipeline      = (*Runner)(nil)
)
