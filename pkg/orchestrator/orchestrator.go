package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/stratum/internal/logging"
	"github.com/aretw0/stratum/pkg/audit"
	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/executor"
	"github.com/aretw0/stratum/pkg/ports"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultLockTTL is the strategy lock lifetime when none is configured.
	DefaultLockTTL = 10 * time.Minute

	// DefaultOpTimeout bounds detached store calls when none is configured.
	DefaultOpTimeout = 5 * time.Second

	tracerName = "github.com/aretw0/stratum/pkg/orchestrator"
)

// Orchestrator runs strategy invocations under the strategy lock.
type Orchestrator struct {
	locker    ports.Locker
	store     ports.SessionStore
	allocator ports.WorkAllocator
	pipeline  ports.Pipeline

	nodeID       string
	lockTTL      time.Duration
	opTimeout    time.Duration
	executorOpts []executor.Option
	auditor      ports.Auditor
	publisher    ports.EventPublisher
	tracer       trace.Tracer
	logger       *slog.Logger
	now          func() time.Time
	newID        func() string
}

// New creates an Orchestrator.
func New(locker ports.Locker, store ports.SessionStore, allocator ports.WorkAllocator, pipeline ports.Pipeline, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		locker:    locker,
		store:     store,
		allocator: allocator,
		pipeline:  pipeline,
		nodeID:    "local",
		lockTTL:   DefaultLockTTL,
		opTimeout: DefaultOpTimeout,
		auditor:   audit.Nop{},
		tracer:    otel.Tracer(tracerName),
		logger:    logging.NewNop(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NodeID returns the identity of this node.
func (o *Orchestrator) NodeID() string {
	return o.nodeID
}

// Execute runs one invocation of strategyID with input as the session context.
//
// It returns domain.ErrConflict, without creating a session, when another invocation of the
// strategy holds the lock. When the run fails the session is finalized as FAILED and the
// failed result is returned together with the error. When the session was cancelled
// concurrently the stored result is returned with domain.ErrSessionCancelled.
func (o *Orchestrator) Execute(ctx context.Context, strategyID string, input map[string]any, opts ...CallOption) (result *domain.ExecutionResult, err error) {
	c := &call{}
	for _, opt := range opts {
		opt(c)
	}

	ctx, span := o.tracer.Start(ctx, "stratum.execute", trace.WithAttributes(
		attribute.String("stratum.strategy_id", strategyID),
		attribute.String("stratum.node_id", o.nodeID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, domain.Classify(err))
		}
		span.End()
	}()

	lockKey := domain.StrategyLockKey(strategyID)
	owner := o.nodeID + "/" + uuid.NewString()
	acquired, err := o.locker.TryAcquire(ctx, lockKey, owner, o.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire lock for strategy %s: %w", strategyID, err)
	}
	if !acquired {
		o.logger.Info("Strategy already running", "strategy_id", strategyID, "node_id", o.nodeID)
		o.publish(ctx, c, domain.NewEvent(domain.EventLockConflict, "", strategyID, o.nodeID, o.now(), nil))
		return nil, fmt.Errorf("%w: strategy %s is already running", domain.ErrConflict, strategyID)
	}
	defer o.release(ctx, lockKey, owner)

	session := domain.NewSession(o.newID(), strategyID, o.nodeID, input, o.now())
	span.SetAttributes(attribute.String("stratum.session_id", session.ID))

	req := ports.AuditRequest{
		StrategyID: strategyID,
		SessionID:  session.ID,
		NodeID:     o.nodeID,
		Context:    input,
	}
	auditID := o.auditStart(ctx, req)

	created, err := o.store.CreateSession(ctx, session)
	if err == nil && !created {
		err = fmt.Errorf("%w: session id %s already exists", domain.ErrConflict, session.ID)
	}
	if err != nil {
		o.auditFail(ctx, auditID, req, err)
		return nil, fmt.Errorf("create session: %w", err)
	}
	o.logger.Info("Session created", "session_id", session.ID, "strategy_id", strategyID, "node_id", o.nodeID)
	o.publish(ctx, c, domain.NewEvent(domain.EventSessionCreated, session.ID, strategyID, o.nodeID, o.now(), nil))

	report, runErr := o.run(ctx, session, c)

	result, err = o.finalize(ctx, session, report, runErr, c)
	if err != nil {
		o.auditFail(ctx, auditID, req, err)
		return result, err
	}
	o.auditComplete(ctx, auditID, req, result)
	return result, nil
}

// run executes the session, turning a panic of a collaborator into an execution failure.
func (o *Orchestrator) run(ctx context.Context, session *domain.Session, c *call) (report *executor.Report, err error) {
	hooks := executor.Hooks{
		OnPhaseEnter: func(ctx context.Context, s *domain.Session, phase domain.Phase, data map[string]any) {
			payload := map[string]any{"phase": string(phase)}
			if attempt, ok := data[domain.KeyExecutingAttempt]; ok {
				payload["attempt"] = attempt
			}
			o.publish(ctx, c, domain.NewEvent(domain.EventPhaseUpdated, s.ID, s.StrategyID, o.nodeID, o.now(), payload))
		},
	}
	opts := append([]executor.Option{executor.WithLogger(o.logger)}, o.executorOpts...)
	opts = append(opts, executor.WithHooks(hooks))
	exec := executor.New(o.store, o.allocator, o.pipeline, opts...)

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Strategy panicked", "session_id", session.ID, "strategy_id", session.StrategyID, "panic", r)
			if report == nil {
				report = &executor.Report{StartTime: session.CreateTime, EndTime: o.now()}
			}
			err = domain.NewPhaseError(domain.ErrExecutionFailed, session.ID, "", fmt.Errorf("panic: %v", r))
		}
	}()
	return exec.Run(ctx, session)
}

// finalize writes the terminal phase of a run exactly once.
func (o *Orchestrator) finalize(ctx context.Context, session *domain.Session, report *executor.Report, runErr error, c *call) (*domain.ExecutionResult, error) {
	// The caller may have given up; the terminal write must still happen.
	fctx, cancel := o.detached(ctx)
	defer cancel()

	if report.EndTime.IsZero() {
		report.EndTime = o.now()
	}
	metrics := report.Metrics(session.ID)

	if errors.Is(runErr, domain.ErrSessionCancelled) {
		if err := o.store.RecordMetrics(fctx, metrics); err != nil {
			o.logger.Warn("Failed to record metrics of cancelled session", "session_id", session.ID, "err", err)
		}
		result, err := o.store.GetResult(fctx, session.ID)
		if err != nil {
			result = nil
		}
		return result, runErr
	}

	f := domain.Finalization{SessionID: session.ID, Metrics: metrics}
	var event domain.EventType
	if runErr == nil {
		f.Phase = domain.PhaseCompleted
		f.PhaseData = report.PhaseData
		f.Result = &domain.ExecutionResult{
			SessionID:      session.ID,
			Success:        true,
			Payload:        report.Payload,
			CompletionTime: o.now(),
		}
		event = domain.EventSessionCompleted
	} else {
		kind := domain.Classify(runErr)
		f.Phase = domain.PhaseFailed
		f.PhaseData = map[string]any{domain.KeyFailureKind: kind}
		if errors.Is(runErr, domain.ErrValidationFailed) {
			f.PhaseData[domain.KeyValidationError] = runErr.Error()
		} else {
			f.PhaseData[domain.KeyExecutionError] = runErr.Error()
		}
		f.Result = &domain.ExecutionResult{
			SessionID:      session.ID,
			Success:        false,
			ErrorMessage:   runErr.Error(),
			ErrorKind:      kind,
			CompletionTime: o.now(),
		}
		event = domain.EventSessionFailed
	}

	ok, err := o.store.Finalize(fctx, f)
	if err != nil {
		o.logger.Error("Failed to finalize session", "session_id", session.ID, "phase", f.Phase, "err", err)
		return nil, errors.Join(runErr, fmt.Errorf("finalize session %s: %w", session.ID, err))
	}
	if !ok {
		return o.lostFinalize(fctx, session, runErr)
	}

	payload := map[string]any{
		"attempts":    metrics.Attempts,
		"duration_ms": metrics.Duration().Milliseconds(),
	}
	if runErr != nil {
		payload["error_kind"] = f.Result.ErrorKind
	}
	o.publish(fctx, c, domain.NewEvent(event, session.ID, session.StrategyID, o.nodeID, o.now(), payload))

	if runErr != nil {
		o.logger.Warn("Session failed", "session_id", session.ID, "strategy_id", session.StrategyID, "err", runErr)
		return f.Result, runErr
	}
	o.logger.Info("Session completed", "session_id", session.ID, "strategy_id", session.StrategyID)
	return f.Result, nil
}

// lostFinalize explains a rejected terminal write: someone else finalized the session.
func (o *Orchestrator) lostFinalize(ctx context.Context, session *domain.Session, runErr error) (*domain.ExecutionResult, error) {
	current, err := o.store.GetState(ctx, session.ID)
	if err != nil {
		return nil, errors.Join(runErr, fmt.Errorf("finalize session %s: %w", session.ID, err))
	}
	result, err := o.store.GetResult(ctx, session.ID)
	if err != nil {
		result = nil
	}
	if current.Phase == domain.PhaseCancelled {
		return result, domain.NewPhaseError(domain.ErrSessionCancelled, session.ID, current.Phase, runErr)
	}
	return result, domain.NewPhaseError(domain.ErrIllegalTransition, session.ID, current.Phase, runErr)
}

// Cancel moves a non-terminal session to CANCELLED with a failed result.
// A running executor notices on its next phase write.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID, reason string) error {
	current, err := o.store.GetState(ctx, sessionID)
	if err != nil {
		return err
	}
	if current.IsTerminal() {
		return domain.NewPhaseError(domain.ErrIllegalTransition, sessionID, current.Phase, errors.New("session already finished"))
	}

	ok, err := o.store.Finalize(ctx, domain.Finalization{
		SessionID: sessionID,
		Phase:     domain.PhaseCancelled,
		PhaseData: map[string]any{domain.KeyCancelReason: reason},
		Result: &domain.ExecutionResult{
			SessionID:      sessionID,
			Success:        false,
			ErrorMessage:   "cancelled: " + reason,
			ErrorKind:      domain.Classify(domain.ErrSessionCancelled),
			CompletionTime: o.now(),
		},
	})
	if err != nil {
		return fmt.Errorf("cancel session %s: %w", sessionID, err)
	}
	if !ok {
		return domain.NewPhaseError(domain.ErrIllegalTransition, sessionID, current.Phase, errors.New("session finished concurrently"))
	}

	if err := o.store.SyncAcrossNodes(ctx, sessionID); err != nil {
		o.logger.Warn("Failed to broadcast cancellation", "session_id", sessionID, "err", err)
	}
	o.logger.Info("Session cancelled", "session_id", sessionID, "reason", reason)
	o.publish(ctx, nil, domain.NewEvent(domain.EventSessionCancelled, sessionID, current.StrategyID, o.nodeID, o.now(),
		map[string]any{"reason": reason}))
	return nil
}

func (o *Orchestrator) release(ctx context.Context, key, owner string) {
	rctx, cancel := o.detached(ctx)
	defer cancel()
	if err := o.locker.Release(rctx, key, owner); err != nil {
		o.logger.Warn("Failed to release strategy lock (will expire via TTL)", "key", key, "err", err)
	}
}

func (o *Orchestrator) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.opTimeout)
}

func (o *Orchestrator) publish(ctx context.Context, c *call, event domain.Event) {
	if c != nil && c.progress != nil {
		select {
		case c.progress <- event:
		default:
			o.logger.Debug("Progress channel full, event dropped", "session_id", event.SessionID, "type", event.Type)
		}
	}
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Warn("Failed to publish event", "session_id", event.SessionID, "type", event.Type, "err", err)
	}
}

func (o *Orchestrator) auditStart(ctx context.Context, req ports.AuditRequest) string {
	id, err := o.auditor.Start(ctx, req)
	if err != nil {
		o.logger.Warn("Audit start failed", "session_id", req.SessionID, "err", err)
	}
	return id
}

func (o *Orchestrator) auditComplete(ctx context.Context, id string, req ports.AuditRequest, result *domain.ExecutionResult) {
	if err := o.auditor.Complete(ctx, id, req, result); err != nil {
		o.logger.Warn("Audit completion failed", "session_id", req.SessionID, "err", err)
	}
}

func (o *Orchestrator) auditFail(ctx context.Context, id string, req ports.AuditRequest, cause error) {
	if err := o.auditor.Fail(ctx, id, req, cause); err != nil {
		o.logger.Warn("Audit failure record failed", "session_id", req.SessionID, "err", err)
	}
}
