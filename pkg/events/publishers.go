package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aretw0/stratum/internal/logging"
	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/ports"
)

// LogPublisher writes every event as a structured log record.
type LogPublisher struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogPublisher logs events at level. A nil logger discards everything.
func NewLogPublisher(logger *slog.Logger, level slog.Level) *LogPublisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LogPublisher{logger: logger, level: level}
}

func (p *LogPublisher) Publish(ctx context.Context, event domain.Event) error {
	attrs := []any{
		"type", event.Type,
		"session_id", event.SessionID,
		"strategy_id", event.StrategyID,
		"node_id", event.NodeID,
	}
	for k, v := range event.Payload {
		attrs = append(attrs, k, v)
	}
	p.logger.Log(ctx, p.level, "Session event", attrs...)
	return nil
}

// Multi delivers every event to all publishers and joins their errors.
type Multi []ports.EventPublisher

func (m Multi) Publish(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ ports.EventPublisher = (*LogPublisher)(nil)
	_ ports.EventPublisher = Multi(nil)
)
