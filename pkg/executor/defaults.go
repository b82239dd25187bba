package executor

import (
	"context"
	"errors"
	"sort"

	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/ports"
)

// ErrEmptyPayload is returned by the default validator when the pipeline produced nothing.
var ErrEmptyPayload = errors.New("pipeline returned an empty payload")

// InventoryPlanner records the strategy and the context keys the run starts with.
var InventoryPlanner = ports.PlannerFunc(func(ctx context.Context, s *domain.Session) (map[string]any, error) {
	keys := make([]string, 0, len(s.Context))
	for k := range s.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return map[string]any{
		domain.KeyPlanPrefix + "strategy":     s.StrategyID,
		domain.KeyPlanPrefix + "context_keys": keys,
	}, nil
})

// NonEmptyValidator rejects a nil payload.
var NonEmptyValidator = ports.ValidatorFunc(func(ctx context.Context, s *domain.Session, payload any) error {
	if payload == nil {
		return ErrEmptyPayload
	}
	return nil
})
