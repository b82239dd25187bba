package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/stratum/pkg/domain"
)

type timed[T any] struct {
	value     T
	expiresAt time.Time
}

func (t timed[T]) expired(now time.Time) bool {
	return !t.expiresAt.IsZero() && !now.Before(t.expiresAt)
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// Store implements ports.SessionStore in memory.
// Safe for concurrent use. It mirrors the Redis adapter semantics, including TTLs and
// index members that outlive expired sessions until cleanup prunes them.
type Store struct {
	mu sync.RWMutex

	sessions    map[string]timed[*domain.Session]
	allocations map[string]timed[*domain.WorkAllocation]
	results     map[string]timed[*domain.ExecutionResult]
	metrics     map[string]timed[*domain.ExecutionMetrics]
	active      map[string]struct{}
	byNode      map[string]map[string]struct{}

	subMu       sync.Mutex
	subscribers map[chan string]struct{}

	now        func() time.Time
	sessionTTL time.Duration
	resultTTL  time.Duration
	metricsTTL time.Duration
}

// Option configures the Store.
type Option func(*Store)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithSessionTTL sets the expiration for sessions and allocations.
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

// NewStore creates a new in-memory store. TTLs default to no expiration.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions:    make(map[string]timed[*domain.Session]),
		allocations: make(map[string]timed[*domain.WorkAllocation]),
		results:     make(map[string]timed[*domain.ExecutionResult]),
		metrics:     make(map[string]timed[*domain.ExecutionMetrics]),
		active:      make(map[string]struct{}),
		byNode:      make(map[string]map[string]struct{}),
		subscribers: make(map[chan string]struct{}),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession stores the session if its ID is unused.
func (s *Store) CreateSession(ctx context.Context, session *domain.Session) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if rec, ok := s.sessions[session.ID]; ok && !rec.expired(now) {
		return false, nil
	}

	stored := session.Clone()
	stored.Phase = domain.PhaseInitialized
	if stored.PhaseData == nil {
		stored.PhaseData = make(map[string]any)
	}
	stored.History = map[domain.Phase]time.Time{domain.PhaseInitialized: stored.CreateTime}
	stored.Entries = map[domain.Phase]int{domain.PhaseInitialized: 1}
	stored.LastUpdateTime = stored.CreateTime

	s.sessions[session.ID] = timed[*domain.Session]{value: stored, expiresAt: expiry(now, s.sessionTTL)}
	s.active[session.ID] = struct{}{}
	s.addToNode(session.OwnerNodeID, session.ID)
	return true, nil
}

// UpdateState applies a whitelisted, non-terminal or terminal phase write.
func (s *Store) UpdateState(ctx context.Context, sessionID string, phase domain.Phase, phaseData map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(sessionID, phase, phaseData, time.Time{}), nil
}

// Finalize writes the terminal phase, the result (if absent) and the metrics together.
func (s *Store) Finalize(ctx context.Context, f domain.Finalization) (bool, error) {
	if !f.Phase.IsTerminal() {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.transition(f.SessionID, f.Phase, f.PhaseData, time.Time{}) {
		return false, nil
	}
	now := s.now()
	if f.Result != nil {
		s.putResult(f.Result, now)
	}
	if f.Metrics != nil {
		m := *f.Metrics
		m.Custom = maps.Clone(f.Metrics.Custom)
		s.metrics[f.SessionID] = timed[*domain.ExecutionMetrics]{value: &m, expiresAt: expiry(now, s.metricsTTL)}
	}
	return true, nil
}

// Abandon cancels a session whose last update is older than cutoff.
func (s *Store) Abandon(ctx context.Context, sessionID string, cutoff time.Time, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := map[string]any{domain.KeyAbandoned: true, domain.KeyAbandonedReason: reason}
	if !s.transition(sessionID, domain.PhaseCancelled, data, cutoff) {
		return false, nil
	}
	now := s.now()
	s.putResult(&domain.ExecutionResult{
		SessionID:      sessionID,
		Success:        false,
		ErrorMessage:   "session abandoned: " + reason,
		ErrorKind:      "abandoned",
		CompletionTime: now,
	}, now)
	return true, nil
}

// transition must be called with s.mu held. A non-zero cutoff makes the write conditional
// on the session being idle since before cutoff.
func (s *Store) transition(sessionID string, phase domain.Phase, phaseData map[string]any, cutoff time.Time) bool {
	now := s.now()
	rec, ok := s.sessions[sessionID]
	if !ok || rec.expired(now) {
		return false
	}
	current := rec.value
	if !domain.CanTransition(current.Phase, phase) {
		return false
	}
	if !cutoff.IsZero() && !current.LastUpdateTime.Before(cutoff) {
		return false
	}

	next := current.Clone()
	stamp := now
	if stamp.Before(next.LastUpdateTime) {
		stamp = next.LastUpdateTime
	}
	next.Phase = phase
	next.LastUpdateTime = stamp
	next.History[phase] = stamp
	next.Entries[phase]++
	maps.Copy(next.PhaseData, phaseData)

	s.sessions[sessionID] = timed[*domain.Session]{value: next, expiresAt: expiry(now, s.sessionTTL)}
	if alloc, ok := s.allocations[sessionID]; ok && !alloc.expired(now) {
		alloc.expiresAt = expiry(now, s.sessionTTL)
		s.allocations[sessionID] = alloc
	}
	if phase.IsTerminal() {
		delete(s.active, sessionID)
		s.removeFromNode(next.OwnerNodeID, sessionID)
	}
	return true
}

// GetState retrieves a copy of the session.
func (s *Store) GetState(ctx context.Context, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[sessionID]
	if !ok || rec.expired(s.now()) {
		return nil, domain.ErrSessionNotFound
	}
	return rec.value.Clone(), nil
}

// SyncAcrossNodes notifies every subscriber that sessionID changed.
func (s *Store) SyncAcrossNodes(ctx context.Context, sessionID string) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- sessionID:
		default:
		}
	}
	return nil
}

// Invalidations streams session IDs passed to SyncAcrossNodes.
func (s *Store) Invalidations(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, 64)
	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		delete(s.subscribers, ch)
		close(ch)
		s.subMu.Unlock()
	}()
	return ch, nil
}

// StoreAllocation persists the allocation with the session TTL.
func (s *Store) StoreAllocation(ctx context.Context, alloc *domain.WorkAllocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := *alloc
	a.AllocationData = maps.Clone(alloc.AllocationData)
	s.allocations[alloc.SessionID] = timed[*domain.WorkAllocation]{value: &a, expiresAt: expiry(s.now(), s.sessionTTL)}
	return nil
}

// GetAllocation retrieves the allocation of a session.
func (s *Store) GetAllocation(ctx context.Context, sessionID string) (*domain.WorkAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.allocations[sessionID]
	if !ok || rec.expired(s.now()) {
		return nil, domain.ErrNotFound
	}
	a := *rec.value
	return &a, nil
}

// StoreResult persists the result if none exists.
func (s *Store) StoreResult(ctx context.Context, result *domain.ExecutionResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putResult(result, s.now()), nil
}

func (s *Store) putResult(result *domain.ExecutionResult, now time.Time) bool {
	if rec, ok := s.results[result.SessionID]; ok && !rec.expired(now) {
		return false
	}
	r := *result
	s.results[result.SessionID] = timed[*domain.ExecutionResult]{value: &r, expiresAt: expiry(now, s.resultTTL)}
	return true
}

// GetResult retrieves the result of a session.
func (s *Store) GetResult(ctx context.Context, sessionID string) (*domain.ExecutionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.results[sessionID]
	if !ok || rec.expired(s.now()) {
		return nil, domain.ErrNotFound
	}
	r := *rec.value
	return &r, nil
}

// RecordMetrics persists the metrics with the metrics TTL.
func (s *Store) RecordMetrics(ctx context.Context, metrics *domain.ExecutionMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := *metrics
	m.Custom = maps.Clone(metrics.Custom)
	s.metrics[metrics.SessionID] = timed[*domain.ExecutionMetrics]{value: &m, expiresAt: expiry(s.now(), s.metricsTTL)}
	return nil
}

// GetMetrics retrieves the metrics of a session.
func (s *Store) GetMetrics(ctx context.Context, sessionID string) (*domain.ExecutionMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.metrics[sessionID]
	if !ok || rec.expired(s.now()) {
		return nil, domain.ErrNotFound
	}
	m := *rec.value
	return &m, nil
}

// ListActiveSessions returns the active-set members, sorted.
func (s *Store) ListActiveSessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.active), nil
}

// ListActiveSessionsByNode returns the active sessions owned by nodeID, sorted.
func (s *Store) ListActiveSessionsByNode(ctx context.Context, nodeID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.byNode[nodeID]), nil
}

// MigrateOwner rewrites the owner of a session if it is currently owned by from.
func (s *Store) MigrateOwner(ctx context.Context, sessionID, from, to string) (domain.MigrationOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok || rec.expired(s.now()) {
		return "", domain.ErrSessionNotFound
	}
	switch rec.value.OwnerNodeID {
	case to:
		return domain.MigrationNoop, nil
	case from:
	default:
		return "", domain.ErrMigrationConflict
	}

	if _, isActive := s.active[sessionID]; isActive {
		s.addToNode(to, sessionID)
	}
	s.removeFromNode(from, sessionID)

	next := rec.value.Clone()
	next.OwnerNodeID = to
	s.sessions[sessionID] = timed[*domain.Session]{value: next, expiresAt: rec.expiresAt}
	return domain.MigrationApplied, nil
}

// PruneActive removes sessionID from every index. Used by cleanup for expired sessions.
func (s *Store) PruneActive(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, sessionID)
	for node := range s.byNode {
		s.removeFromNode(node, sessionID)
	}
	return nil
}

func (s *Store) addToNode(nodeID, sessionID string) {
	set, ok := s.byNode[nodeID]
	if !ok {
		set = make(map[string]struct{})
		s.byNode[nodeID] = set
	}
	set[sessionID] = struct{}{}
}

func (s *Store) removeFromNode(nodeID, sessionID string) {
	set, ok := s.byNode[nodeID]
	if !ok {
		return
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(s.byNode, nodeID)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
