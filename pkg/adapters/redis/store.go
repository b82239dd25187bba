package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/stratum/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// Store implements ports.SessionStore using Redis.
//
// Every mutation is a single Lua script, so a crash can never leave metadata without state
// or a terminal session inside the active set. Session keys embed the session ID as a hash
// tag ({id}) to group one session's keys. The scripts also touch the shared active and node
// sets, so the store runs against a single instance or Sentinel, not Redis Cluster.
type Store struct {
	client     backend.UniversalClient
	prefix     string
	sessionTTL time.Duration
	resultTTL  time.Duration
	metricsTTL time.Duration
	now        func() time.Time
}

type Option func(*Store)

// WithPrefix sets the key prefix for every key and channel.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithSessionTTL sets the expiration for session and allocation keys.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.sessionTTL = ttl
	}
}

// WithResultTTL sets the expiration for results.
func WithResultTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.resultTTL = ttl
	}
}

// WithMetricsTTL sets the expiration for metrics.
func WithMetricsTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.metricsTTL = ttl
	}
}

// WithClock replaces the wall clock used for phase timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client backend.UniversalClient, opts ...Option) *Store {
	store := &Store{
		client:     client,
		prefix:     "stratum:",
		sessionTTL: 0, // No expiration by default
		resultTTL:  0,
		metricsTTL: 0,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *Store) metaKey(id string) string       { return s.prefix + "session:meta:{" + id + "}" }
func (s *Store) stateKey(id string) string      { return s.prefix + "session:state:{" + id + "}" }
func (s *Store) allocationKey(id string) string { return s.prefix + "allocation:{" + id + "}" }
func (s *Store) resultKey(id string) string     { return s.prefix + "result:{" + id + "}" }
func (s *Store) metricsKey(id string) string    { return s.prefix + "metrics:{" + id + "}" }
func (s *Store) activeKey() string              { return s.prefix + "active-sessions" }
func (s *Store) nodePrefix() string             { return s.prefix + "node-sessions:" }
func (s *Store) nodeKey(nodeID string) string   { return s.nodePrefix() + nodeID }
func (s *Store) invalidateChannel() string      { return s.prefix + "invalidate" }

// CreateSession writes metadata and state atomically.
func (s *Store) CreateSession(ctx context.Context, session *domain.Session) (bool, error) {
	contextJSON, err := json.Marshal(session.Context)
	if err != nil {
		return false, fmt.Errorf("failed to marshal session context: %w", err)
	}

	n, err := createScript.Run(ctx, s.client,
		[]string{s.metaKey(session.ID), s.stateKey(session.ID), s.activeKey(), s.nodeKey(session.OwnerNodeID)},
		session.ID,
		session.StrategyID,
		session.OwnerNodeID,
		session.CreateTime.UnixMilli(),
		string(contextJSON),
		s.sessionTTL.Milliseconds(),
		string(domain.PhaseInitialized),
	).Int()
	if err != nil {
		return false, domain.StoreUnavailable("create session", err)
	}
	return n == scriptApplied, nil
}

// UpdateState applies a whitelisted phase write and merges phaseData.
func (s *Store) UpdateState(ctx context.Context, sessionID string, phase domain.Phase, phaseData map[string]any) (bool, error) {
	n, err := s.transition(ctx, transition{sessionID: sessionID, phase: phase, phaseData: phaseData})
	if err != nil {
		return false, err
	}
	return n == scriptApplied, nil
}

// Finalize writes the terminal phase, the result and the metrics in one script.
func (s *Store) Finalize(ctx context.Context, f domain.Finalization) (bool, error) {
	if !f.Phase.IsTerminal() {
		return false, nil
	}
	n, err := s.transition(ctx, transition{
		sessionID: f.SessionID,
		phase:     f.Phase,
		phaseData: f.PhaseData,
		result:    f.Result,
		metrics:   f.Metrics,
	})
	if err != nil {
		return false, err
	}
	return n == scriptApplied, nil
}

// Abandon cancels the session if its last update is older than cutoff.
func (s *Store) Abandon(ctx context.Context, sessionID string, cutoff time.Time, reason string) (bool, error) {
	n, err := s.transition(ctx, transition{
		sessionID: sessionID,
		phase:     domain.PhaseCancelled,
		phaseData: map[string]any{domain.KeyAbandoned: true, domain.KeyAbandonedReason: reason},
		result: &domain.ExecutionResult{
			SessionID:      sessionID,
			Success:        false,
			ErrorMessage:   "session abandoned: " + reason,
			ErrorKind:      "abandoned",
			CompletionTime: s.now(),
		},
		cutoff: cutoff,
	})
	if err != nil {
		return false, err
	}
	return n == scriptApplied, nil
}

type transition struct {
	sessionID string
	phase     domain.Phase
	phaseData map[string]any
	result    *domain.ExecutionResult
	metrics   *domain.ExecutionMetrics
	cutoff    time.Time
}

func (s *Store) transition(ctx context.Context, t transition) (int, error) {
	allowed := make([]string, 0, 5)
	for _, p := range domain.Predecessors(t.phase) {
		allowed = append(allowed, string(p))
	}
	if len(allowed) == 0 {
		return scriptRejected, nil
	}

	var resultJSON, metricsJSON, cutoff string
	if t.result != nil {
		data, err := json.Marshal(t.result)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal result: %w", err)
		}
		resultJSON = string(data)
	}
	if t.metrics != nil {
		data, err := json.Marshal(t.metrics)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal metrics: %w", err)
		}
		metricsJSON = string(data)
	}
	if !t.cutoff.IsZero() {
		cutoff = strconv.FormatInt(t.cutoff.UnixMilli(), 10)
	}

	terminal := "0"
	if t.phase.IsTerminal() {
		terminal = "1"
	}

	args := []any{
		t.sessionID,
		string(t.phase),
		s.now().UnixMilli(),
		s.sessionTTL.Milliseconds(),
		terminal,
		s.nodePrefix(),
		strings.Join(allowed, ","),
		resultJSON,
		s.resultTTL.Milliseconds(),
		metricsJSON,
		s.metricsTTL.Milliseconds(),
		cutoff,
	}
	for k, v := range t.phaseData {
		data, err := json.Marshal(v)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal phase data %q: %w", k, err)
		}
		args = append(args, k, string(data))
	}

	keys := []string{
		s.metaKey(t.sessionID),
		s.stateKey(t.sessionID),
		s.activeKey(),
		s.resultKey(t.sessionID),
		s.metricsKey(t.sessionID),
		s.allocationKey(t.sessionID),
	}
	n, err := transitionScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return 0, domain.StoreUnavailable("update state", err)
	}
	return n, nil
}

// GetState reads metadata and state in one round-trip.
func (s *Store) GetState(ctx context.Context, sessionID string) (*domain.Session, error) {
	pipe := s.client.Pipeline()
	metaCmd := pipe.HGetAll(ctx, s.metaKey(sessionID))
	stateCmd := pipe.HGetAll(ctx, s.stateKey(sessionID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, domain.StoreUnavailable("get state", err)
	}

	meta, state := metaCmd.Val(), stateCmd.Val()
	if len(meta) == 0 || len(state) == 0 {
		return nil, domain.ErrSessionNotFound
	}
	return decodeSession(meta, state)
}

func decodeSession(meta, state map[string]string) (*domain.Session, error) {
	session := &domain.Session{
		ID:             meta["sessionId"],
		StrategyID:     meta["strategyId"],
		OwnerNodeID:    meta["ownerNodeId"],
		Phase:          domain.Phase(state["phase"]),
		CreateTime:     parseMillis(meta["createTime"]),
		LastUpdateTime: parseMillis(state["lastUpdateTime"]),
		Context:        make(map[string]any),
		PhaseData:      make(map[string]any),
		History:        make(map[domain.Phase]time.Time),
		Entries:        make(map[domain.Phase]int),
	}

	if raw := meta["context"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &session.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session context: %w", err)
		}
	}

	for field, value := range state {
		switch {
		case strings.HasPrefix(field, "data."):
			var v any
			if err := json.Unmarshal([]byte(value), &v); err != nil {
				return nil, fmt.Errorf("failed to unmarshal phase data %q: %w", field, err)
			}
			session.PhaseData[strings.TrimPrefix(field, "data.")] = v
		case strings.HasPrefix(field, "at."):
			session.History[domain.Phase(strings.TrimPrefix(field, "at."))] = parseMillis(value)
		case strings.HasPrefix(field, "entries."):
			n, _ := strconv.Atoi(value)
			session.Entries[domain.Phase(strings.TrimPrefix(field, "entries."))] = n
		}
	}
	return session, nil
}

func parseMillis(raw string) time.Time {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// SyncAcrossNodes publishes an invalidation for sessionID to every subscribed node.
func (s *Store) SyncAcrossNodes(ctx context.Context, sessionID string) error {
	if err := s.client.Publish(ctx, s.invalidateChannel(), sessionID).Err(); err != nil {
		return domain.StoreUnavailable("sync across nodes", err)
	}
	return nil
}

// Invalidations subscribes to the invalidation channel.
// The subscription is confirmed before returning, so no later message is missed.
func (s *Store) Invalidations(ctx context.Context) (<-chan string, error) {
	pubsub := s.client.Subscribe(ctx, s.invalidateChannel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, domain.StoreUnavailable("subscribe invalidations", err)
	}

	out := make(chan string, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// StoreAllocation persists the allocation with the session TTL.
func (s *Store) StoreAllocation(ctx context.Context, alloc *domain.WorkAllocation) error {
	return s.setJSON(ctx, "store allocation", s.allocationKey(alloc.SessionID), alloc, s.sessionTTL)
}

// GetAllocation retrieves the allocation of a session.
func (s *Store) GetAllocation(ctx context.Context, sessionID string) (*domain.WorkAllocation, error) {
	var alloc domain.WorkAllocation
	if err := s.getJSON(ctx, "get allocation", s.allocationKey(sessionID), &alloc); err != nil {
		return nil, err
	}
	return &alloc, nil
}

// StoreResult persists the result only if none exists (SET NX).
func (s *Store) StoreResult(ctx context.Context, result *domain.ExecutionResult) (bool, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("failed to marshal result: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.resultKey(result.SessionID), data, s.resultTTL).Result()
	if err != nil {
		return false, domain.StoreUnavailable("store result", err)
	}
	return ok, nil
}

// GetResult retrieves the result of a session.
func (s *Store) GetResult(ctx context.Context, sessionID string) (*domain.ExecutionResult, error) {
	var result domain.ExecutionResult
	if err := s.getJSON(ctx, "get result", s.resultKey(sessionID), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RecordMetrics persists the metrics with the metrics TTL.
func (s *Store) RecordMetrics(ctx context.Context, metrics *domain.ExecutionMetrics) error {
	return s.setJSON(ctx, "record metrics", s.metricsKey(metrics.SessionID), metrics, s.metricsTTL)
}

// GetMetrics retrieves the metrics of a session.
func (s *Store) GetMetrics(ctx context.Context, sessionID string) (*domain.ExecutionMetrics, error) {
	var metrics domain.ExecutionMetrics
	if err := s.getJSON(ctx, "get metrics", s.metricsKey(sessionID), &metrics); err != nil {
		return nil, err
	}
	return &metrics, nil
}

func (s *Store) setJSON(ctx context.Context, op, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", op, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return domain.StoreUnavailable(op, err)
	}
	return nil
}

func (s *Store) getJSON(ctx context.Context, op, key string, v any) error {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return domain.ErrNotFound
		}
		return domain.StoreUnavailable(op, err)
	}
	if err := json.Unmarshal([]byte(val), v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", op, err)
	}
	return nil
}

// ListActiveSessions returns the members of the active set.
func (s *Store) ListActiveSessions(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.activeKey()).Result()
	if err != nil {
		return []string{}, domain.StoreUnavailable("list active sessions", err)
	}
	return ids, nil
}

// ListActiveSessionsByNode returns the members of a node's set.
func (s *Store) ListActiveSessionsByNode(ctx context.Context, nodeID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.nodeKey(nodeID)).Result()
	if err != nil {
		return []string{}, domain.StoreUnavailable("list node sessions", err)
	}
	return ids, nil
}

// MigrateOwner moves ownership atomically.
func (s *Store) MigrateOwner(ctx context.Context, sessionID, from, to string) (domain.MigrationOutcome, error) {
	n, err := migrateScript.Run(ctx, s.client,
		[]string{s.metaKey(sessionID), s.activeKey()},
		sessionID, from, to, s.nodePrefix(),
	).Int()
	if err != nil {
		return "", domain.StoreUnavailable("migrate owner", err)
	}
	switch n {
	case scriptApplied:
		return domain.MigrationApplied, nil
	case scriptNoop:
		return domain.MigrationNoop, nil
	case scriptMissing:
		return "", domain.ErrSessionNotFound
	default:
		return "", domain.ErrMigrationConflict
	}
}

// PruneActive removes sessionID from the active set and from every node set.
// Node sets are discovered with SCAN since the owner may have expired with the metadata.
func (s *Store) PruneActive(ctx context.Context, sessionID string) error {
	pipe := s.client.Pipeline()
	pipe.SRem(ctx, s.activeKey(), sessionID)

	iter := s.client.Scan(ctx, 0, s.nodePrefix()+"*", 100).Iterator()
	for iter.Next(ctx) {
		pipe.SRem(ctx, iter.Val(), sessionID)
	}
	if err := iter.Err(); err != nil {
		return domain.StoreUnavailable("prune active", err)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return domain.StoreUnavailable("prune active", err)
	}
	return nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
