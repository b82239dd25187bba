package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics turns session events into Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	sessions      *prometheus.CounterVec
	phases        *prometheus.CounterVec
	lockConflicts *prometheus.CounterVec
	migrations    prometheus.Counter
	duration      *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a dedicated registry, together with the Go runtime
// and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stratum_sessions_total",
				Help: "Session lifecycle events by type",
			},
			[]string{"event"},
		),
		phases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stratum_phase_transitions_total",
				Help: "Phase writes applied by executors",
			},
			[]string{"phase"},
		),
		lockConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stratum_lock_conflicts_total",
				Help: "Invocations rejected because the strategy was already running",
			},
			[]string{"strategy_id"},
		),
		migrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stratum_migrations_total",
			Help: "Session ownership migrations applied",
		}),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stratum_session_duration_seconds",
				Help:    "Wall time of finalized sessions",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
			},
			[]string{"outcome"},
		),
	}
	m.registry.MustRegister(
		m.sessions,
		m.phases,
		m.lockConflicts,
		m.migrations,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Publish implements ports.EventPublisher.
func (m *Metrics) Publish(ctx context.Context, event domain.Event) error {
	switch event.Type {
	case domain.EventPhaseUpdated:
		if phase, ok := event.Payload["phase"].(string); ok {
			m.phases.WithLabelValues(phase).Inc()
		}
		return nil
	case domain.EventLockConflict:
		m.lockConflicts.WithLabelValues(event.StrategyID).Inc()
	case domain.EventSessionMigrated:
		m.migrations.Inc()
	case domain.EventSessionCompleted:
		m.observeDuration("completed", event)
	case domain.EventSessionFailed:
		m.observeDuration("failed", event)
	}
	m.sessions.WithLabelValues(string(event.Type)).Inc()
	return nil
}

func (m *Metrics) observeDuration(outcome string, event domain.Event) {
	var ms int64
	switch v := event.Payload["duration_ms"].(type) {
	case int64:
		ms = v
	case int:
		ms = int64(v)
	case float64:
		ms = int64(v)
	default:
		return
	}
	m.duration.WithLabelValues(outcome).Observe((time.Duration(ms) * time.Millisecond).Seconds())
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

var _ ports.EventPublisher = (*Metrics)(nil)
