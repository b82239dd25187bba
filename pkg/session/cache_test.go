package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(id string) *domain.Session {
	return domain.NewSession(id, "strategy", "node-a", map[string]any{"k": "v"}, time.Now())
}

func TestCache_LoadFillsAndServes(t *testing.T) {
	c := session.NewCache(session.WithTTL(time.Minute))
	ctx := context.Background()
	var calls atomic.Int32
	fetch := func(context.Context) (*domain.Session, error) {
		calls.Add(1)
		return fixture("s1"), nil
	}

	first, err := c.Load(ctx, "s1", fetch)
	require.NoError(t, err)
	second, err := c.Load(ctx, "s1", fetch)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, first.ID, second.ID)

	// Served copies are independent of the cached entry.
	second.PhaseData["mutated"] = true
	third, ok := c.Get("s1")
	require.True(t, ok)
	assert.NotContains(t, third.PhaseData, "mutated")
}

func TestCache_Expiry(t *testing.T) {
	now := time.Now()
	c := session.NewCache(session.WithTTL(time.Second), session.WithClock(func() time.Time { return now }))

	_, err := c.Load(context.Background(), "s1", func(context.Context) (*domain.Session, error) {
		return fixture("s1"), nil
	})
	require.NoError(t, err)

	_, ok := c.Get("s1")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = c.Get("s1")
	assert.False(t, ok)
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	c := session.NewCache()
	ctx := context.Background()

	_, err := c.Load(ctx, "s1", func(context.Context) (*domain.Session, error) {
		return nil, domain.ErrSessionNotFound
	})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Equal(t, 0, c.Len())
}

func TestCache_DisabledWithZeroTTL(t *testing.T) {
	c := session.NewCache(session.WithTTL(0))
	var calls atomic.Int32
	fetch := func(context.Context) (*domain.Session, error) {
		calls.Add(1)
		return fixture("s1"), nil
	}
	for i := 0; i < 3; i++ {
		_, err := c.Load(context.Background(), "s1", fetch)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestCache_ConcurrentLoadsShareOneFetch(t *testing.T) {
	c := session.NewCache(session.WithTTL(time.Minute))
	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (*domain.Session, error) {
		calls.Add(1)
		<-release
		return fixture("s1"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Load(context.Background(), "s1", fetch)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_InvalidateDuringLoadDiscardsResult(t *testing.T) {
	c := session.NewCache(session.WithTTL(time.Minute))
	started := make(chan struct{})
	proceed := make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.Load(context.Background(), "s1", func(context.Context) (*domain.Session, error) {
			close(started)
			<-proceed
			return fixture("s1"), nil
		})
		assert.NoError(t, err)
	}()

	<-started
	c.Invalidate("s1")
	close(proceed)
	<-done

	_, ok := c.Get("s1")
	assert.False(t, ok, "a load racing an invalidation must not fill the cache")
}

type feed struct {
	ch chan string
}

func (f *feed) Invalidations(ctx context.Context) (<-chan string, error) {
	return f.ch, nil
}

type brokenFeed struct{}

func (brokenFeed) Invalidations(ctx context.Context) (<-chan string, error) {
	return nil, errors.New("no pubsub")
}

func TestCache_Watch(t *testing.T) {
	c := session.NewCache(session.WithTTL(time.Minute))
	ctx := context.Background()
	for _, id := range []string{"s1", "s2"} {
		_, err := c.Load(ctx, id, func(context.Context) (*domain.Session, error) { return fixture(id), nil })
		require.NoError(t, err)
	}

	f := &feed{ch: make(chan string)}
	require.NoError(t, c.Watch(ctx, f))

	f.ch <- "s1"
	assert.Eventually(t, func() bool {
		_, ok := c.Get("s1")
		return !ok
	}, time.Second, 5*time.Millisecond)
	_, ok := c.Get("s2")
	assert.True(t, ok)

	close(f.ch)
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)

	assert.Error(t, c.Watch(ctx, brokenFeed{}))
}
