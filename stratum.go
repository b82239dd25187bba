package stratum

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/stratum/internal/logging"
	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/events"
	"github.com/aretw0/stratum/pkg/executor"
	"github.com/aretw0/stratum/pkg/migration"
	"github.com/aretw0/stratum/pkg/observability"
	"github.com/aretw0/stratum/pkg/orchestrator"
	"github.com/aretw0/stratum/pkg/persistence/middleware"
	"github.com/aretw0/stratum/pkg/ports"
	"github.com/aretw0/stratum/pkg/session"
)

// Coordinator is the high-level entry point for the Stratum library.
// It wires the orchestrator, the store middlewares, migration and cleanup, and the event fan-out.
type Coordinator struct {
	nodeID       string
	base         ports.SessionStore
	store        ports.SessionStore
	orchestrator *orchestrator.Orchestrator
	migrator     *migration.Migrator
	cleaner      *migration.Cleaner
	cache        *session.Cache
	bus          *events.Bus
	metrics      *observability.Metrics
	logger       *slog.Logger
}

type settings struct {
	nodeID       string
	lockTTL      time.Duration
	opTimeout    time.Duration
	cacheTTL     time.Duration
	concurrency  int
	piiPatterns  []string
	encryption   *middleware.EncryptionConfig
	auditor      ports.Auditor
	publishers   []ports.EventPublisher
	executorOpts []executor.Option
	logger       *slog.Logger
}

// Option defines a functional option for configuring the Coordinator.
type Option func(*settings)

// WithNodeID sets the identity of this node (default: "local").
func WithNodeID(id string) Option {
	return func(s *settings) {
		s.nodeID = id
	}
}

// WithLockTTL sets the lifetime of strategy locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(s *settings) {
		s.lockTTL = ttl
	}
}

// WithOpTimeout bounds store calls made after the caller's context is gone.
func WithOpTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.opTimeout = d
	}
}

// WithCacheTTL sets the local session cache lifetime. Zero disables the cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *settings) {
		s.cacheTTL = ttl
	}
}

// WithConcurrency bounds parallel store calls during drain and cleanup.
func WithConcurrency(n int) Option {
	return func(s *settings) {
		s.concurrency = n
	}
}

// WithPIIMasking masks context and phase data keys matching the patterns before they are stored.
func WithPIIMasking(patterns ...string) Option {
	return func(s *settings) {
		s.piiPatterns = append(s.piiPatterns, patterns...)
	}
}

// WithEncryption encrypts result payloads at rest.
func WithEncryption(cfg middleware.EncryptionConfig) Option {
	return func(s *settings) {
		s.encryption = &cfg
	}
}

// WithAuditor sets the audit trail around every invocation.
func WithAuditor(a ports.Auditor) Option {
	return func(s *settings) {
		s.auditor = a
	}
}

// WithPublisher adds an event sink next to the in-process bus and metrics.
func WithPublisher(p ports.EventPublisher) Option {
	return func(s *settings) {
		s.publishers = append(s.publishers, p)
	}
}

// WithExecutorOptions tunes the per-session executor (planner, validator, attempts).
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(s *settings) {
		s.executorOpts = append(s.executorOpts, opts...)
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// New initializes a Coordinator over the given lock service, store and domain collaborators.
func New(locker ports.Locker, store ports.SessionStore, allocator ports.WorkAllocator, pipeline ports.Pipeline, opts ...Option) *Coordinator {
	s := settings{
		nodeID:      "local",
		lockTTL:     orchestrator.DefaultLockTTL,
		opTimeout:   orchestrator.DefaultOpTimeout,
		cacheTTL:    session.DefaultTTL,
		concurrency: migration.DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	logger := s.logger.With("node_id", s.nodeID)

	c := &Coordinator{
		nodeID:  s.nodeID,
		base:    store,
		bus:     events.NewBus(),
		metrics: observability.NewMetrics(),
		logger:  logger,
	}

	var mws []middleware.Middleware
	if s.cacheTTL > 0 {
		c.cache = session.NewCache(session.WithTTL(s.cacheTTL), session.WithLogger(logger))
		mws = append(mws, middleware.NewCacheMiddleware(c.cache))
	}
	if len(s.piiPatterns) > 0 {
		mws = append(mws, middleware.NewPIIMiddleware(s.piiPatterns))
	}
	if s.encryption != nil {
		mws = append(mws, middleware.NewEncryptionMiddleware(*s.encryption))
	}
	c.store = middleware.Chain(store, mws...)

	publisher := events.Multi(append([]ports.EventPublisher{
		c.bus,
		c.metrics,
		events.NewLogPublisher(logger, slog.LevelDebug),
	}, s.publishers...))

	orchOpts := []orchestrator.Option{
		orchestrator.WithNodeID(s.nodeID),
		orchestrator.WithLockTTL(s.lockTTL),
		orchestrator.WithOpTimeout(s.opTimeout),
		orchestrator.WithPublisher(publisher),
		orchestrator.WithLogger(logger),
		orchestrator.WithExecutorOptions(s.executorOpts...),
	}
	if s.auditor != nil {
		orchOpts = append(orchOpts, orchestrator.WithAuditor(s.auditor))
	}
	c.orchestrator = orchestrator.New(locker, c.store, allocator, pipeline, orchOpts...)

	c.migrator = migration.NewMigrator(c.store,
		migration.WithMigratorNodeID(s.nodeID),
		migration.WithMigratorPublisher(publisher),
		migration.WithMigratorConcurrency(s.concurrency),
		migration.WithMigratorLogger(logger),
	)
	c.cleaner = migration.NewCleaner(c.store,
		migration.WithCleanerNodeID(s.nodeID),
		migration.WithCleanerPublisher(publisher),
		migration.WithCleanerConcurrency(s.concurrency),
		migration.WithCleanerLogger(logger),
	)
	return c
}

// NodeID returns the identity of this node.
func (c *Coordinator) NodeID() string {
	return c.nodeID
}

// Execute runs a strategy under its distributed lock and returns the stored result.
func (c *Coordinator) Execute(ctx context.Context, strategyID string, input map[string]any, opts ...orchestrator.CallOption) (*domain.ExecutionResult, error) {
	return c.orchestrator.Execute(ctx, strategyID, input, opts...)
}

// Cancel moves a running session to CANCELLED.
func (c *Coordinator) Cancel(ctx context.Context, sessionID, reason string) error {
	return c.orchestrator.Cancel(ctx, sessionID, reason)
}

// Inspect returns the current view of a session.
func (c *Coordinator) Inspect(ctx context.Context, sessionID string) (*domain.Session, error) {
	return c.store.GetState(ctx, sessionID)
}

// Result returns the final result of a session.
func (c *Coordinator) Result(ctx context.Context, sessionID string) (*domain.ExecutionResult, error) {
	return c.store.GetResult(ctx, sessionID)
}

// Allocation returns the work allocation recorded for a session.
func (c *Coordinator) Allocation(ctx context.Context, sessionID string) (*domain.WorkAllocation, error) {
	return c.store.GetAllocation(ctx, sessionID)
}

// Metrics returns the execution metrics recorded for a session.
func (c *Coordinator) Metrics(ctx context.Context, sessionID string) (*domain.ExecutionMetrics, error) {
	return c.store.GetMetrics(ctx, sessionID)
}

// ListActive lists the non-terminal sessions, all of them or those owned by nodeID.
func (c *Coordinator) ListActive(ctx context.Context, nodeID string) ([]string, error) {
	if nodeID == "" {
		return c.store.ListActiveSessions(ctx)
	}
	return c.store.ListActiveSessionsByNode(ctx, nodeID)
}

// Migrate transfers ownership of one session between nodes.
func (c *Coordinator) Migrate(ctx context.Context, sessionID, from, to string) (domain.MigrationOutcome, error) {
	return c.migrator.Migrate(ctx, sessionID, from, to)
}

// DrainNode migrates every active session owned by from.
func (c *Coordinator) DrainNode(ctx context.Context, from, to string) (*migration.DrainReport, error) {
	return c.migrator.DrainNode(ctx, from, to)
}

// Cleanup abandons sessions idle for longer than inactiveFor.
func (c *Coordinator) Cleanup(ctx context.Context, inactiveFor time.Duration) (*migration.CleanupReport, error) {
	return c.cleaner.Cleanup(ctx, inactiveFor)
}

// Janitor returns a background loop running Cleanup every interval.
func (c *Coordinator) Janitor(interval, inactiveFor time.Duration, opts ...migration.JanitorOption) *migration.Janitor {
	opts = append([]migration.JanitorOption{migration.WithJanitorLogger(c.logger)}, opts...)
	return migration.NewJanitor(c.cleaner, interval, inactiveFor, opts...)
}

// Subscribe streams lifecycle events seen by this node. An empty sessionID receives every event.
func (c *Coordinator) Subscribe(sessionID string) (<-chan domain.Event, func()) {
	return c.bus.Subscribe(sessionID)
}

// MetricsHandler serves the Prometheus metrics of this node.
func (c *Coordinator) MetricsHandler() http.Handler {
	return c.metrics.Handler()
}

// Watch keeps the local session cache coherent with writes made by other nodes.
// It returns immediately; the watch ends with ctx.
func (c *Coordinator) Watch(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	src, ok := c.base.(ports.InvalidationSource)
	if !ok {
		return errors.New("store does not publish invalidations")
	}
	return c.cache.Watch(ctx, src)
}

// Close stops the event fan-out. The store and lock service are owned by the caller.
func (c *Coordinator) Close() error {
	return c.bus.Close()
}
