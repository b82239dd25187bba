package ports

import (
	"context"

	"github.com/aretw0/stratum/pkg/domain"
)

// ExecutionRequest is the input handed to the domain pipeline.
type ExecutionRequest struct {
	SessionID  string
	StrategyID string
	Attempt    int
	Context    map[string]any
	PhaseData  map[string]any
	Allocation *domain.WorkAllocation
}

// Planner computes the PLANNING annotations of a session.
type Planner interface {
	Plan(ctx context.Context, session *domain.Session) (map[string]any, error)
}

// WorkAllocator assigns a worker to a session during LAB_ALLOCATION.
type WorkAllocator interface {
	Allocate(ctx context.Context, sessionID, strategyID string, context map[string]any) (*domain.WorkAllocation, error)
}

// Pipeline performs the actual domain work of a strategy (e.g. an AI invocation).
// Its own retries and timeouts are its own concern.
type Pipeline interface {
	Execute(ctx context.Context, req ExecutionRequest) (any, error)
}

// Validator checks the post-conditions of a pipeline result.
type Validator interface {
	Validate(ctx context.Context, session *domain.Session, payload any) error
}

// PlannerFunc adapts a function to a Planner.
type PlannerFunc func(ctx context.Context, session *domain.Session) (map[string]any, error)

func (f PlannerFunc) Plan(ctx context.Context, session *domain.Session) (map[string]any, error) {
	return f(ctx, session)
}

// AllocatorFunc adapts a function to a WorkAllocator.
type AllocatorFunc func(ctx context.Context, sessionID, strategyID string, context map[string]any) (*domain.WorkAllocation, error)

func (f AllocatorFunc) Allocate(ctx context.Context, sessionID, strategyID string, context map[string]any) (*domain.WorkAllocation, error) {
	return f(ctx, sessionID, strategyID, context)
}

// PipelineFunc adapts a function to a Pipeline.
type PipelineFunc func(ctx context.Context, req ExecutionRequest) (any, error)

func (f PipelineFunc) Execute(ctx context.Context, req ExecutionRequest) (any, error) {
	return f(ctx, req)
}

// ValidatorFunc adapts a function to a Validator.
type ValidatorFunc func(ctx context.Context, session *domain.Session, payload any) error

func (f ValidatorFunc) Validate(ctx context.Context, session *domain.Session, payload any) error {
	return f(ctx, session, payload)
}
