package orchestrator

import (
	"log/slog"
	"time"

	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/executor"
	"github.com/aretw0/stratum/pkg/ports"
	"go.opentelemetry.io/otel/trace"
)

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithNodeID sets the identity written as session owner and lock owner prefix.
func WithNodeID(id string) Option {
	return func(o *Orchestrator) {
		o.nodeID = id
	}
}

// WithLockTTL sets the strategy lock lifetime. It must exceed the longest expected run.
// Non-positive values keep DefaultLockTTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) {
		if ttl <= 0 {
			return
		}
		o.lockTTL = ttl
	}
}

// WithOpTimeout bounds the store calls made after the caller's context is gone
// (finalization and lock release). Non-positive values keep DefaultOpTimeout.
func WithOpTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d <= 0 {
			return
		}
		o.opTimeout = d
	}
}

// WithExecutorOptions forwards options to the executor built for every call.
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(o *Orchestrator) {
		o.executorOpts = append(o.executorOpts, opts...)
	}
}

// WithAuditor records an audit trail around every invocation.
func WithAuditor(a ports.Auditor) Option {
	return func(o *Orchestrator) {
		o.auditor = a
	}
}

// WithPublisher delivers lifecycle events.
func WithPublisher(p ports.EventPublisher) Option {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

// WithTracer replaces the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// WithLogger configures a logger for the Orchestrator.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithIDGenerator replaces the UUID session id generator.
func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) {
		o.newID = gen
	}
}

// CallOption configures a single Execute call.
type CallOption func(*call)

type call struct {
	progress chan<- domain.Event
}

// WithProgress sends every event of the call to ch. Events are dropped when ch is full;
// ch is never closed by the Orchestrator.
func WithProgress(ch chan<- domain.Event) CallOption {
	return func(c *call) {
		c.progress = ch
	}
}
