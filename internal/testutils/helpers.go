package testutils

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
)

// SetupRedis starts an in-process Redis and a client connected to it.
// Both are closed when the test ends.
func SetupRedis(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
		// Fail fast once the server is stopped on purpose.
		MaxRetries: -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}
