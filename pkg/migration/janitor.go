package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/stratum/internal/logging"
)

// ErrInvalidInterval is returned by Run when the Janitor was built with a non-positive interval.
var ErrInvalidInterval = errors.New("janitor interval must be positive")

// Janitor runs Cleanup on an interval.
type Janitor struct {
	cleaner     *Cleaner
	interval    time.Duration
	inactiveFor time.Duration
	logger      *slog.Logger
	onReport    func(*CleanupReport)
}

// JanitorOption configures the Janitor.
type JanitorOption func(*Janitor)

// WithJanitorLogger configures a logger for the Janitor.
func WithJanitorLogger(logger *slog.Logger) JanitorOption {
	return func(j *Janitor) {
		j.logger = logger
	}
}

// WithReportHandler receives the report of every pass.
func WithReportHandler(fn func(*CleanupReport)) JanitorOption {
	return func(j *Janitor) {
		j.onReport = fn
	}
}

// NewJanitor creates a Janitor running cleaner every interval with the inactiveFor threshold.
func NewJanitor(cleaner *Cleaner, interval, inactiveFor time.Duration, opts ...JanitorOption) *Janitor {
	j := &Janitor{
		cleaner:     cleaner,
		interval:    interval,
		inactiveFor: inactiveFor,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run performs a pass immediately and then one per interval until ctx is done.
// It returns ErrInvalidInterval for a non-positive interval, ctx.Err() otherwise.
func (j *Janitor) Run(ctx context.Context) error {
	if j.interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, j.interval)
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		j.pass(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (j *Janitor) pass(ctx context.Context) {
	report, err := j.cleaner.Cleanup(ctx, j.inactiveFor)
	if err != nil {
		j.logger.Warn("Cleanup pass failed", "err", err)
		return
	}
	if j.onReport != nil {
		j.onReport(report)
	}
}
