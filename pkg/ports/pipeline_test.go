package ports_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/ports"
	"github.com/stretchr/testify/assert"
)

func TestFuncAdapters(t *testing.T) {
	ctx := context.Background()
	session := domain.NewSession("s1", "st", "n1", nil, time.Now())

	var pipeline ports.Pipeline = ports.PipelineFunc(func(ctx context.Context, req ports.ExecutionRequest) (any, error) {
		return req.StrategyID + "-done", nil
	})
	out, err := pipeline.Execute(ctx, ports.ExecutionRequest{StrategyID: "st"})
	assert.NoError(t, err)
	assert.Equal(t, "st-done", out)

	var validator ports.Validator = ports.ValidatorFunc(func(ctx context.Context, s *domain.Session, payload any) error {
		if payload == nil {
			return errors.New("empty")
		}
		return nil
	})
	assert.Error(t, validator.Validate(ctx, session, nil))
	assert.NoError(t, validator.Validate(ctx, session, "x"))

	var allocator ports.WorkAllocator = ports.AllocatorFunc(func(ctx context.Context, sessionID, strategyID string, c map[string]any) (*domain.WorkAllocation, error) {
		return &domain.WorkAllocation{SessionID: sessionID, WorkerType: "cpu"}, nil
	})
	alloc, err := allocator.Allocate(ctx, "s1", "st", nil)
	assert.NoError(t, err)
	assert.Equal(t, "cpu", alloc.WorkerType)

	var planner ports.Planner = ports.PlannerFunc(func(ctx context.Context, s *domain.Session) (map[string]any, error) {
		return map[string]any{"plan.id": s.ID}, nil
	})
	plan, err := planner.Plan(ctx, session)
	assert.NoError(t, err)
	assert.Equal(t, "s1", plan["plan.id"])

	var received []domain.EventType
	var publisher ports.EventPublisher = ports.PublisherFunc(func(ctx context.Context, e domain.Event) error {
		received = append(received, e.Type)
		return nil
	})
	assert.NoError(t, publisher.Publish(ctx, domain.Event{Type: domain.EventSessionCreated}))
	assert.Equal(t, []domain.EventType{domain.EventSessionCreated}, received)
}
