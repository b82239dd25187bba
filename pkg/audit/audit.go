// Package audit provides Auditor implementations.
package audit

import (
	"context"
	"log/slog"

	"github.com/aretw0/stratum/internal/logging"
	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/ports"
	"github.com/google/uuid"
)

// Nop discards the audit trail.
type Nop struct{}

func (Nop) Start(ctx context.Context, req ports.AuditRequest) (string, error) { return "", nil }

func (Nop) Complete(ctx context.Context, id string, req ports.AuditRequest, result *domain.ExecutionResult) error {
	return nil
}

func (Nop) Fail(ctx context.Context, id string, req ports.AuditRequest, cause error) error {
	return nil
}

// LogAuditor writes the audit trail as structured log records.
// Context values are never logged, only their keys.
type LogAuditor struct {
	logger *slog.Logger
}

// NewLogAuditor creates an auditor writing to logger. A nil logger discards everything.
func NewLogAuditor(logger *slog.Logger) *LogAuditor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LogAuditor{logger: logger.With("component", "audit")}
}

func (a *LogAuditor) Start(ctx context.Context, req ports.AuditRequest) (string, error) {
	id := uuid.NewString()
	a.logger.InfoContext(ctx, "Strategy invocation started",
		"audit_id", id,
		"strategy_id", req.StrategyID,
		"session_id", req.SessionID,
		"node_id", req.NodeID,
		"context_keys", len(req.Context),
	)
	return id, nil
}

func (a *LogAuditor) Complete(ctx context.Context, id string, req ports.AuditRequest, result *domain.ExecutionResult) error {
	a.logger.InfoContext(ctx, "Strategy invocation completed",
		"audit_id", id,
		"strategy_id", req.StrategyID,
		"session_id", req.SessionID,
		"success", result != nil && result.Success,
	)
	return nil
}

func (a *LogAuditor) Fail(ctx context.Context, id string, req ports.AuditRequest, cause error) error {
	a.logger.WarnContext(ctx, "Strategy invocation failed",
		"audit_id", id,
		"strategy_id", req.StrategyID,
		"session_id", req.SessionID,
		"kind", domain.Classify(cause),
		"err", cause,
	)
	return nil
}

var (
	_ ports.Auditor = Nop{}
	_ ports.Auditor = (*LogAuditor)(nil)
)
