package ports

import (
	"context"

	"github.com/aretw0/stratum/pkg/domain"
)

// EventPublisher delivers lifecycle notifications.
// Delivery is best effort: callers log a returned error and carry on.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// PublisherFunc adapts a function to an EventPublisher.
type PublisherFunc func(ctx context.Context, event domain.Event) error

func (f PublisherFunc) Publish(ctx context.Context, event domain.Event) error {
	return f(ctx, event)
}

// AuditRequest describes one orchestrator invocation for the audit trail.
type AuditRequest struct {
	StrategyID string
	SessionID  string
	NodeID     string
	Context    map[string]any
}

// Auditor records an audit trail around every orchestrator invocation.
// Failures to audit never abort a strategy.
type Auditor interface {
	Start(ctx context.Context, req AuditRequest) (string, error)
	Complete(ctx context.Context, auditID string, req AuditRequest, result *domain.ExecutionResult) error
	Fail(ctx context.Context, auditID string, req AuditRequest, cause error) error
}
