package process

import (
	"context"
	"fmt"

	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/executor"
	"github.com/aretw0/stratum/pkg/ports"
)

// Plan checks the session context against the input schema of the strategy and
// records the inventory of the run.
func (r *Runner) Plan(ctx context.Context, session *domain.Session) (map[string]any, error) {
	cfg, ok := r.registry[session.StrategyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotRegistered, session.StrategyID)
	}
	if err := cfg.Input.Validate(session.Context); err != nil {
		return nil, fmt.Errorf("invalid context for %s: %w", session.StrategyID, err)
	}

	plan, err := executor.InventoryPlanner.Plan(ctx, session)
	if err != nil {
		return nil, err
	}
	plan[domain.KeyPlanPrefix+"command"] = cfg.Command
	if len(cfg.Output) > 0 {
		plan[domain.KeyPlanPrefix+"output_fields"] = cfg.Output.Fields()
	}
	return plan, nil
}

// Validate rejects empty payloads and payloads that do not match the output schema.
func (r *Runner) Validate(ctx context.Context, session *domain.Session, payload any) error {
	if err := executor.NonEmptyValidator.Validate(ctx, session, payload); err != nil {
		return err
	}
	cfg, ok := r.registry[session.StrategyID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStrategyNotRegistered, session.StrategyID)
	}
	return cfg.Output.ValidatePayload(payload)
}

var (
	_ ports.Planner   = (*Runner)(nil)
	_ ports.Validator = (*Runner)(nil)
)
