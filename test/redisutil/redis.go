// Package redisutil provides a shared Redis instance for integration
// tests. In CI (when CI_REDIS_URL is set) it connects to an external
// service container; in local dev it starts one shared testcontainer per
// package.
package redisutil

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

var (
	sharedURL     string
	containerOnce sync.Once
	containerErr  error

	// dbCounter hands out logical Redis databases so concurrent tests on
	// the shared instance stay isolated.
	dbCounter atomic.Int32
)

// NewTestClient returns a client connected to an isolated logical database
// of the shared Redis instance. The database is flushed before the test
// and the client closed afterwards.
func NewTestClient(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	opts, err := redis.ParseURL(getOrCreateSharedRedis(t))
	require.NoError(t, err)

	// Redis ships 16 logical databases; tests beyond that wrap around,
	// which is safe because each test flushes its database first.
	opts.DB = int(dbCounter.Add(1)) % 16

	client := redis.NewClient(opts)
	require.NoError(t, client.FlushDB(ctx).Err())

	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

// getOrCreateSharedRedis returns the connection URL of the shared Redis.
// In CI, uses CI_REDIS_URL. In local dev, starts a shared testcontainer
// once per package.
func getOrCreateSharedRedis(t *testing.T) string {
	if ciURL := os.Getenv("CI_REDIS_URL"); ciURL != "" {
		t.Log("Using external Redis from CI_REDIS_URL")
		return ciURL
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		t.Log("Starting shared Redis testcontainer for all tests")

		container, err := tcredis.Run(ctx, "redis:7-alpine")
		if err != nil {
			containerErr = err
			return
		}

		url, err := container.ConnectionString(ctx)
		if err != nil {
			containerErr = err
			return
		}
		sharedURL = url
		// The container is reaped by testcontainers' ryuk sidecar after
		// the test process exits.
	})

	require.NoError(t, containerErr, "failed to start shared Redis container")
	return sharedURL
}
