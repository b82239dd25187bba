package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/stratum/internal/logging"
	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/ports"
	"golang.org/x/sync/errgroup"
)

// Outcome is what Cleanup did with one active-set member.
type Outcome string

const (
	// OutcomeAbandoned means the session was idle and is now CANCELLED.
	OutcomeAbandoned Outcome = "abandoned"
	// OutcomeActive means the session was updated recently and left alone.
	OutcomeActive Outcome = "active"
	// OutcomePruned means the member had no live session behind it and was dropped from the index.
	OutcomePruned Outcome = "pruned"
)

// CleanupReport lists the outcome of every active-set member scanned by Cleanup.
type CleanupReport struct {
	Cutoff   time.Time
	Outcomes map[string]Outcome
	Errors   map[string]error
}

// Count returns how many sessions ended with outcome.
func (r *CleanupReport) Count(outcome Outcome) int {
	n := 0
	for _, o := range r.Outcomes {
		if o == outcome {
			n++
		}
	}
	return n
}

// Cleaner reclaims sessions whose owner stopped advancing them.
type Cleaner struct {
	store       ports.SessionStore
	publisher   ports.EventPublisher
	nodeID      string
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// CleanerOption configures the Cleaner.
type CleanerOption func(*Cleaner)

// WithCleanerPublisher delivers session_cleaned events.
func WithCleanerPublisher(p ports.EventPublisher) CleanerOption {
	return func(c *Cleaner) {
		c.publisher = p
	}
}

// WithCleanerNodeID sets the node reported in events.
func WithCleanerNodeID(id string) CleanerOption {
	return func(c *Cleaner) {
		c.nodeID = id
	}
}

// WithCleanerConcurrency bounds the parallel store calls of Cleanup.
func WithCleanerConcurrency(n int) CleanerOption {
	return func(c *Cleaner) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithCleanerLogger configures a logger for the Cleaner.
func WithCleanerLogger(logger *slog.Logger) CleanerOption {
	return func(c *Cleaner) {
		c.logger = logger
	}
}

// WithCleanerClock replaces the wall clock used to compute the cutoff.
func WithCleanerClock(now func() time.Time) CleanerOption {
	return func(c *Cleaner) {
		c.now = now
	}
}

// NewCleaner creates a Cleaner.
func NewCleaner(store ports.SessionStore, opts ...CleanerOption) *Cleaner {
	c := &Cleaner{
		store:       store,
		nodeID:      "local",
		concurrency: DefaultConcurrency,
		logger:      logging.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cleanup abandons every active session whose last update is older than inactiveFor.
// Abandoned sessions keep their state and get a failed result, so callers can still
// inspect them. Per-session failures are reported, not returned.
func (c *Cleaner) Cleanup(ctx context.Context, inactiveFor time.Duration) (*CleanupReport, error) {
	if inactiveFor <= 0 {
		return nil, errors.New("cleanup: inactivity threshold must be positive")
	}
	ids, err := c.store.ListActiveSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}

	report := &CleanupReport{
		Cutoff:   c.now().Add(-inactiveFor),
		Outcomes: make(map[string]Outcome, len(ids)),
		Errors:   make(map[string]error),
	}
	reason := fmt.Sprintf("no update for %s", inactiveFor)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			outcome, err := c.reclaim(gctx, id, report.Cutoff, reason)
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

	c.logger.Info("Cleanup finished",
		"scanned", len(ids),
		"abandoned", report.Count(OutcomeAbandoned),
		"pruned", report.Count(OutcomePruned),
		"failed", len(report.Errors),
	)
	return report, nil
}

func (c *Cleaner) reclaim(ctx context.Context, sessionID string, cutoff time.Time, reason string) (Outcome, error) {
	abandoned, err := c.store.Abandon(ctx, sessionID, cutoff, reason)
	if err != nil {
		return "", fmt.Errorf("abandon session %s: %w", sessionID, err)
	}
	if abandoned {
		if err := c.store.SyncAcrossNodes(ctx, sessionID); err != nil {
			c.logger.Warn("Failed to broadcast abandonment", "session_id", sessionID, "err", err)
		}
		c.logger.Info("Session abandoned", "session_id", sessionID, "reason", reason)
		c.publish(ctx, sessionID, reason)
		return OutcomeAbandoned, nil
	}

	// Either still active, or there is nothing left to abandon.
	s, err := c.store.GetState(ctx, sessionID)
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
	case err != nil:
		return "", fmt.Errorf("inspect session %s: %w", sessionID, err)
	case !s.IsTerminal():
		return OutcomeActive, nil
	}

	if err := c.store.PruneActive(ctx, sessionID); err != nil {
		return "", fmt.Errorf("prune session %s: %w", sessionID, err)
	}
	c.logger.Debug("Stale index entry pruned", "session_id", sessionID)
	return OutcomePruned, nil
}

func (c *Cleaner) publish(ctx context.Context, sessionID, reason string) {
	if c.publisher == nil {
		return
	}
	event := domain.NewEvent(domain.EventSessionCleaned, sessionID, "", c.nodeID, c.now(), map[string]any{"reason": reason})
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.logger.Warn("Failed to publish event", "session_id", sessionID, "err", err)
	}
}
