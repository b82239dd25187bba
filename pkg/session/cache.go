package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/stratum/internal/logging"
	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/ports"
)

// DefaultTTL bounds how long a cached session may be served without a store read.
const DefaultTTL = 2 * time.Second

type cached struct {
	session   *domain.Session
	expiresAt time.Time
}

// loadEntry serializes loads of one session and carries the reference count used to
// garbage collect it.
type loadEntry struct {
	mu   sync.Mutex
	refs int
	// invalidatedAt is the cache version of the last invalidation seen while loads were in flight.
	invalidatedAt uint64
}

// Cache is a per-node read cache for sessions.
// A load that overlaps an invalidation never populates the cache with its (possibly stale) result.
type Cache struct {
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	version uint64
	entries map[string]cached
	loads   map[string]*loadEntry
}

// Option configures the Cache.
type Option func(*Cache)

// WithTTL sets the entry lifetime. A non-positive TTL disables caching.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithLogger configures a logger for the Cache.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// NewCache creates an empty cache.
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  logging.NewNop(),
		entries: make(map[string]cached),
		loads:   make(map[string]*loadEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the cached session, if present and fresh.
func (c *Cache) Get(sessionID string) (*domain.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[sessionID]
	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, sessionID)
		return nil, false
	}
	return entry.session.Clone(), true
}

// Load returns the cached session or calls fetch to read it.
// Concurrent loads of the same session share a single fetch.
func (c *Cache) Load(ctx context.Context, sessionID string, fetch func(context.Context) (*domain.Session, error)) (*domain.Session, error) {
	if s, ok := c.Get(sessionID); ok {
		return s, nil
	}
	if c.ttl <= 0 {
		return fetch(ctx)
	}

	entry := c.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		c.release(sessionID)
	}()

	// Another load may have filled the entry while we waited.
	if s, ok := c.Get(sessionID); ok {
		return s, nil
	}

	c.mu.Lock()
	startedAt := c.version
	c.mu.Unlock()

	s, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if entry.invalidatedAt <= startedAt {
		c.entries[sessionID] = cached{session: s.Clone(), expiresAt: c.now().Add(c.ttl)}
	}
	c.mu.Unlock()
	return s, nil
}

// Invalidate drops the cached view of sessionID.
func (c *Cache) Invalidate(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.version++
	delete(c.entries, sessionID)
	if entry, ok := c.loads[sessionID]; ok {
		entry.invalidatedAt = c.version
	}
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.version++
	c.entries = make(map[string]cached)
	for _, entry := range c.loads {
		entry.invalidatedAt = c.version
	}
}

// Len reports the number of entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Watch invalidates entries for every ID received from src until ctx is done.
// It returns once the subscription is established.
func (c *Cache) Watch(ctx context.Context, src ports.InvalidationSource) error {
	ids, err := src.Invalidations(ctx)
	if err != nil {
		return err
	}
	go func() {
		for id := range ids {
			c.logger.Debug("Session invalidated by peer", "session_id", id)
			c.Invalidate(id)
		}
		// The feed is gone; nothing tells us about remote writes anymore.
		c.Purge()
	}()
	return nil
}

// acquire gets or creates a load entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(sessionID) after unlocking.
func (c *Cache) acquire(sessionID string) *loadEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.loads[sessionID]
	if !exists {
		entry = &loadEntry{}
		c.loads[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (c *Cache) release(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.loads[sessionID]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(c.loads, sessionID)
	}
}
