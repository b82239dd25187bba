package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/aretw0/stratum"
	"github.com/aretw0/stratum/internal/config"
	"github.com/aretw0/stratum/pkg/adapters/memory"
	"github.com/aretw0/stratum/pkg/adapters/process"
	redisAdapter "github.com/aretw0/stratum/pkg/adapters/redis"
	"github.com/aretw0/stratum/pkg/audit"
	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/executor"
	"github.com/aretw0/stratum/pkg/persistence/middleware"
	"github.com/aretw0/stratum/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// Runtime is a fully wired coordinator node built from configuration.
type Runtime struct {
	Config      *config.Config
	Coordinator *stratum.Coordinator
	Strategies  *process.Runner
	Logger      *slog.Logger

	events  *redisAdapter.Publisher
	closers []func() error
}

// NewRuntime initializes the store, lock service, strategy registry and coordinator described by cfg.
func NewRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger}

	locker, store, err := rt.openStore(ctx)
	if err != nil {
		return nil, err
	}

	registry, err := process.LoadStrategies(cfg.StrategiesFile)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("error loading strategies: %w", err)
	}
	rt.Strategies = process.NewRunner(
		process.WithRegistry(registry),
		process.WithNodeID(cfg.Node.ID),
		process.WithBaseDir(filepath.Dir(cfg.StrategiesFile)),
	)
	logger.Debug("Strategies loaded", "path", cfg.StrategiesFile, "count", len(registry))

	opts := []stratum.Option{
		stratum.WithNodeID(cfg.Node.ID),
		stratum.WithLockTTL(cfg.Lock.TTL),
		stratum.WithOpTimeout(cfg.Store.OpTimeout),
		stratum.WithCacheTTL(cfg.Store.CacheTTL),
		stratum.WithConcurrency(cfg.Cleanup.Concurrency),
		stratum.WithAuditor(audit.NewLogAuditor(logger)),
		stratum.WithLogger(logger),
		stratum.WithExecutorOptions(
			executor.WithMaxAttempts(cfg.Executor.MaxAttempts),
			executor.WithPlanner(rt.Strategies),
			executor.WithValidator(rt.Strategies),
			executor.WithLogger(logger),
		),
	}
	if len(cfg.Security.PIIPatterns) > 0 {
		opts = append(opts, stratum.WithPIIMasking(cfg.Security.PIIPatterns...))
	}
	active, fallback, err := cfg.Security.Keys()
	if err != nil {
		rt.Close()
		return nil, err
	}
	if active != nil {
		opts = append(opts, stratum.WithEncryption(middleware.EncryptionConfig{ActiveKey: active, FallbackKeys: fallback}))
	}
	if rt.events != nil {
		opts = append(opts, stratum.WithPublisher(rt.events))
	}

	rt.Coordinator = stratum.New(locker, store, rt.Strategies, rt.Strategies, opts...)
	rt.closers = append([]func() error{rt.Coordinator.Close}, rt.closers...)
	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context) (ports.Locker, ports.SessionStore, error) {
	cfg := rt.Config
	switch cfg.Store.Backend {
	case config.BackendRedis:
		client := backend.NewClient(&backend.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		pctx, cancel := context.WithTimeout(ctx, cfg.Store.OpTimeout)
		defer cancel()
		if err := client.Ping(pctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, domain.StoreUnavailable("connect "+cfg.Store.Redis.Addr, err)
		}

		store := redisAdapter.NewFromClient(client,
			redisAdapter.WithPrefix(cfg.Store.Redis.Prefix),
			redisAdapter.WithSessionTTL(cfg.Store.SessionTTL),
			redisAdapter.WithResultTTL(cfg.Store.ResultTTL),
			redisAdapter.WithMetricsTTL(cfg.Store.MetricsTTL),
		)
		rt.events = redisAdapter.NewPublisher(client, cfg.Store.Redis.Prefix)
		rt.closers = append(rt.closers, store.Close)
		rt.Logger.Debug("Using redis store", "addr", cfg.Store.Redis.Addr, "prefix", cfg.Store.Redis.Prefix)
		return redisAdapter.NewLocker(client, cfg.Store.Redis.Prefix), store, nil

	case config.BackendMemory:
		rt.Logger.Debug("Using in-memory store")
		store := memory.NewStore(
			memory.WithSessionTTL(cfg.Store.SessionTTL),
			memory.WithResultTTL(cfg.Store.ResultTTL),
			memory.WithMetricsTTL(cfg.Store.MetricsTTL),
		)
		return memory.NewLocker(nil), store, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// Events streams lifecycle events: cluster-wide over redis, local to this process otherwise.
func (rt *Runtime) Events(ctx context.Context, sessionID string) (<-chan domain.Event, error) {
	if rt.events == nil {
		ch, unsubscribe := rt.Coordinator.Subscribe(sessionID)
		go func() {
			<-ctx.Done()
			unsubscribe()
		}()
		return ch, nil
	}

	all, err := rt.events.Events(ctx)
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		return all, nil
	}
	out := make(chan domain.Event)
	go func() {
		defer close(out)
		for e := range all {
			if e.SessionID != sessionID {
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close releases the coordinator and the store connections.
func (rt *Runtime) Close() error {
	var errs []error
	for _, c := range rt.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
