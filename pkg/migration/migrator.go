package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/stratum/internal/logging"
	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/ports"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds the parallel store calls of bulk operations.
const DefaultConcurrency = 8

// Migrator moves session ownership between nodes.
//
// Moving a session that is still being advanced under a live strategy lock is the
// caller's responsibility to avoid; the store only guarantees the ownership swap is atomic.
type Migrator struct {
	store       ports.SessionStore
	publisher   ports.EventPublisher
	nodeID      string
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// MigratorOption configures the Migrator.
type MigratorOption func(*Migrator)

// WithMigratorPublisher delivers session_migrated events.
func WithMigratorPublisher(p ports.EventPublisher) MigratorOption {
	return func(m *Migrator) {
		m.publisher = p
	}
}

// WithMigratorNodeID sets the node reported in events.
func WithMigratorNodeID(id string) MigratorOption {
	return func(m *Migrator) {
		m.nodeID = id
	}
}

// WithMigratorConcurrency bounds the parallel migrations of DrainNode.
func WithMigratorConcurrency(n int) MigratorOption {
	return func(m *Migrator) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithMigratorLogger configures a logger for the Migrator.
func WithMigratorLogger(logger *slog.Logger) MigratorOption {
	return func(m *Migrator) {
		m.logger = logger
	}
}

// NewMigrator creates a Migrator.
func NewMigrator(store ports.SessionStore, opts ...MigratorOption) *Migrator {
	m := &Migrator{
		store:       store,
		nodeID:      "local",
		concurrency: DefaultConcurrency,
		logger:      logging.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Migrate moves sessionID from one node to another and invalidates every node's cache.
// Repeating a completed migration returns domain.MigrationNoop. An owner that is neither
// from nor to yields domain.ErrMigrationConflict.
func (m *Migrator) Migrate(ctx context.Context, sessionID, from, to string) (domain.MigrationOutcome, error) {
	if from == to {
		return "", fmt.Errorf("migrate session %s: source and destination are both %q", sessionID, from)
	}

	outcome, err := m.store.MigrateOwner(ctx, sessionID, from, to)
	if err != nil {
		return "", fmt.Errorf("migrate session %s: %w", sessionID, err)
	}
	if outcome == domain.MigrationNoop {
		return outcome, nil
	}

	if err := m.store.SyncAcrossNodes(ctx, sessionID); err != nil {
		// The ownership swap is durable; peers catch up when their cache entries expire.
		m.logger.Warn("Failed to broadcast migration", "session_id", sessionID, "err", err)
	}
	m.logger.Info("Session migrated", "session_id", sessionID, "from", from, "to", to)

	if m.publisher != nil {
		event := domain.NewEvent(domain.EventSessionMigrated, sessionID, "", m.nodeID, m.now(),
			map[string]any{"from": from, "to": to})
		if err := m.publisher.Publish(ctx, event); err != nil {
			m.logger.Warn("Failed to publish event", "session_id", sessionID, "err", err)
		}
	}
	return outcome, nil
}

// DrainReport lists the outcome of every session moved by DrainNode.
type DrainReport struct {
	From     string
	To       string
	Outcomes map[string]domain.MigrationOutcome
	Errors   map[string]error
}

// Err joins the per-session errors.
func (r *DrainReport) Err() error {
	ids := make([]string, 0, len(r.Errors))
	for id := range r.Errors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		errs = append(errs, r.Errors[id])
	}
	return errors.Join(errs...)
}

// DrainNode migrates every active session owned by from to the node to.
// It keeps going past individual failures; the error is only set when listing fails.
func (m *Migrator) DrainNode(ctx context.Context, from, to string) (*DrainReport, error) {
	ids, err := m.store.ListActiveSessionsByNode(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("list sessions of node %s: %w", from, err)
	}

	report := &DrainReport{
		From:     from,
		To:       to,
		Outcomes: make(map[string]domain.MigrationOutcome, len(ids)),
		Errors:   make(map[string]error),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			outcome, err := m.Migrate(gctx, id, from, to)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors[id] = err
				return nil
			}
			report.Outcomes[id] = outcome
			return nil
		})
	}
	_ = g.Wait()

	m.logger.Info("Node drained", "from", from, "to", to, "migrated", len(report.Outcomes), "failed", len(report.Errors))
	return report, nil
}
