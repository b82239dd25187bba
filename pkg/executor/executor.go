package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/aretw0/stratum/internal/logging"
	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/ports"
)

// DefaultMaxAttempts is the number of pipeline attempts made during EXECUTING.
const DefaultMaxAttempts = 1

// Executor advances a session from INITIALIZED to VALIDATING.
type Executor struct {
	store       ports.SessionStore
	planner     ports.Planner
	allocator   ports.WorkAllocator
	pipeline    ports.Pipeline
	validator   ports.Validator
	maxAttempts int
	hooks       Hooks
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures the Executor.
type Option func(*Executor)

// WithPlanner replaces the default InventoryPlanner.
func WithPlanner(p ports.Planner) Option {
	return func(e *Executor) {
		e.planner = p
	}
}

// WithValidator replaces the default NonEmptyValidator.
func WithValidator(v ports.Validator) Option {
	return func(e *Executor) {
		e.validator = v
	}
}

// WithMaxAttempts bounds the pipeline attempts made during EXECUTING. Values below 1 mean 1.
func WithMaxAttempts(n int) Option {
	return func(e *Executor) {
		if n < 1 {
			n = 1
		}
		e.maxAttempts = n
	}
}

// WithHooks registers observability hooks. Repeated calls compose: every registered
// hook fires, in registration order.
func WithHooks(h Hooks) Option {
	return func(e *Executor) {
		e.hooks = e.hooks.then(h)
	}
}

// WithLogger configures a logger for the Executor.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithClock replaces the wall clock used for the report.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// New creates an Executor over the given store and collaborators.
func New(store ports.SessionStore, allocator ports.WorkAllocator, pipeline ports.Pipeline, opts ...Option) *Executor {
	e := &Executor{
		store:       store,
		planner:     InventoryPlanner,
		allocator:   allocator,
		pipeline:    pipeline,
		validator:   NonEmptyValidator,
		maxAttempts: DefaultMaxAttempts,
		logger:      logging.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run carries the state of one Run call.
type run struct {
	*Executor
	session *domain.Session
	report  *Report
	phase   domain.Phase
	entered time.Time
}

// Run drives session through PLANNING, LAB_ALLOCATION, EXECUTING and VALIDATING.
// The returned Report is never nil. On failure the error is a *domain.PhaseError naming
// the phase where the run stopped, or a wrapped store error.
func (e *Executor) Run(ctx context.Context, session *domain.Session) (*Report, error) {
	r := &run{
		Executor: e,
		session:  session.Clone(),
		report: &Report{
			StartTime: e.now(),
			Durations: make(map[domain.Phase]time.Duration),
		},
		phase: session.Phase,
	}
	r.entered = r.report.StartTime

	err := r.execute(ctx)
	r.closePhase()
	r.report.EndTime = e.now()
	return r.report, err
}

func (r *run) execute(ctx context.Context) error {
	// PLANNING
	if err := r.advance(ctx, domain.PhasePlanning, nil); err != nil {
		return err
	}
	plan, err := r.planner.Plan(ctx, r.session.Clone())
	if err != nil {
		return r.fail(domain.ErrExecutionFailed, err)
	}

	// LAB_ALLOCATION
	if err := r.advance(ctx, domain.PhaseLabAllocation, plan); err != nil {
		return err
	}
	alloc, err := r.allocator.Allocate(ctx, r.session.ID, r.session.StrategyID, maps.Clone(r.session.Context))
	if err != nil {
		return r.fail(domain.ErrExecutionFailed, fmt.Errorf("allocate: %w", err))
	}
	if alloc == nil {
		return r.fail(domain.ErrExecutionFailed, errors.New("allocator returned no allocation"))
	}
	alloc.SessionID = r.session.ID
	if alloc.AllocationTime.IsZero() {
		alloc.AllocationTime = r.now()
	}
	if err := r.store.StoreAllocation(ctx, alloc); err != nil {
		return fmt.Errorf("store allocation: %w", err)
	}
	r.report.Allocation = alloc

	// EXECUTING
	payload, err := r.executeWithRetry(ctx, alloc)
	if err != nil {
		return err
	}
	r.report.Payload = payload

	// VALIDATING
	if err := r.advance(ctx, domain.PhaseValidating, nil); err != nil {
		return err
	}
	if err := r.validator.Validate(ctx, r.session.Clone(), payload); err != nil {
		return r.fail(domain.ErrValidationFailed, err)
	}
	r.report.PhaseData = map[string]any{domain.KeyValidationStatus: "passed"}
	return nil
}

func (r *run) executeWithRetry(ctx context.Context, alloc *domain.WorkAllocation) (any, error) {
	data := map[string]any{
		domain.KeyAllocationWorker: alloc.WorkerType,
		domain.KeyAllocationNode:   alloc.AssignedNodeID,
		domain.KeyExecutingAttempt: 1,
	}

	for attempt := 1; ; attempt++ {
		if err := r.advance(ctx, domain.PhaseExecuting, data); err != nil {
			return nil, err
		}

		r.report.Attempts++
		payload, err := r.pipeline.Execute(ctx, ports.ExecutionRequest{
			SessionID:  r.session.ID,
			StrategyID: r.session.StrategyID,
			Attempt:    attempt,
			Context:    maps.Clone(r.session.Context),
			PhaseData:  maps.Clone(r.session.PhaseData),
			Allocation: alloc,
		})
		if err == nil {
			r.report.Successes++
			return payload, nil
		}

		r.report.Failures++
		r.hooks.attemptFailed(ctx, r.session, attempt, err)
		r.logger.Warn("Pipeline attempt failed",
			"session_id", r.session.ID,
			"strategy_id", r.session.StrategyID,
			"attempt", attempt,
			"err", err,
		)

		if attempt >= r.maxAttempts || ctx.Err() != nil {
			return nil, r.fail(domain.ErrExecutionFailed, err)
		}
		data = map[string]any{
			domain.KeyExecutingAttempt: attempt + 1,
			domain.KeyExecutingError:   err.Error(),
		}
	}
}

// advance writes phase with data. A rejected write means the session moved on without us.
func (r *run) advance(ctx context.Context, phase domain.Phase, data map[string]any) error {
	ok, err := r.store.UpdateState(ctx, r.session.ID, phase, data)
	if err != nil {
		return fmt.Errorf("enter %s: %w", phase, err)
	}
	if !ok {
		return r.rejected(ctx, phase)
	}

	r.closePhase()
	r.phase = phase
	r.session.Phase = phase
	if r.session.PhaseData == nil {
		r.session.PhaseData = make(map[string]any)
	}
	maps.Copy(r.session.PhaseData, data)

	r.logger.Debug("Phase entered",
		"session_id", r.session.ID,
		"strategy_id", r.session.StrategyID,
		"phase", phase,
	)
	r.hooks.phaseEntered(ctx, r.session, phase, data)
	return nil
}

func (r *run) rejected(ctx context.Context, phase domain.Phase) error {
	current, err := r.store.GetState(ctx, r.session.ID)
	if err != nil {
		return domain.NewPhaseError(domain.ErrIllegalTransition, r.session.ID, phase, err)
	}
	if current.Phase == domain.PhaseCancelled {
		return domain.NewPhaseError(domain.ErrSessionCancelled, r.session.ID, phase, nil)
	}
	return domain.NewPhaseError(domain.ErrIllegalTransition, r.session.ID, phase,
		fmt.Errorf("session is in %s", current.Phase))
}

func (r *run) fail(kind error, err error) error {
	return domain.NewPhaseError(kind, r.session.ID, r.phase, err)
}

// closePhase accumulates the time spent in the current phase.
func (r *run) closePhase() {
	now := r.now()
	if r.phase != domain.PhaseInitialized && r.phase != "" {
		r.report.Durations[r.phase] += now.Sub(r.entered)
	}
	r.entered = now
}
