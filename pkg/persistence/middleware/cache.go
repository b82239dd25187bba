package middleware

import (
	"context"
	"time"

	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/ports"
	"github.com/aretw0/stratum/pkg/session"
)

type cacheMiddleware struct {
	ports.SessionStore
	cache *session.Cache
}

// NewCacheMiddleware serves GetState from a node-local cache.
// Every mutation made through this store drops the cached entry, whatever its outcome.
// Changes made by other nodes are picked up through cache.Watch or after the entry TTL.
func NewCacheMiddleware(cache *session.Cache) Middleware {
	return func(next ports.SessionStore) ports.SessionStore {
		return &cacheMiddleware{SessionStore: next, cache: cache}
	}
}

func (m *cacheMiddleware) GetState(ctx context.Context, sessionID string) (*domain.Session, error) {
	return m.cache.Load(ctx, sessionID, func(ctx context.Context) (*domain.Session, error) {
		return m.SessionStore.GetState(ctx, sessionID)
	})
}

func (m *cacheMiddleware) UpdateState(ctx context.Context, sessionID string, phase domain.Phase, phaseData map[string]any) (bool, error) {
	defer m.cache.Invalidate(sessionID)
	return m.SessionStore.UpdateState(ctx, sessionID, phase, phaseData)
}

func (m *cacheMiddleware) Finalize(ctx context.Context, f domain.Finalization) (bool, error) {
	defer m.cache.Invalidate(f.SessionID)
	return m.SessionStore.Finalize(ctx, f)
}

func (m *cacheMiddleware) Abandon(ctx context.Context, sessionID string, cutoff time.Time, reason string) (bool, error) {
	defer m.cache.Invalidate(sessionID)
	return m.SessionStore.Abandon(ctx, sessionID, cutoff, reason)
}

func (m *cacheMiddleware) MigrateOwner(ctx context.Context, sessionID, from, to string) (domain.MigrationOutcome, error) {
	defer m.cache.Invalidate(sessionID)
	return m.SessionStore.MigrateOwner(ctx, sessionID, from, to)
}

func (m *cacheMiddleware) SyncAcrossNodes(ctx context.Context, sessionID string) error {
	m.cache.Invalidate(sessionID)
	return m.SessionStore.SyncAcrossNodes(ctx, sessionID)
}
