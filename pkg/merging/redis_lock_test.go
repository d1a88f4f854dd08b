package merging

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb
}

func TestRedisLocker(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()
	l := NewRedisLocker(rdb, testLogger(), "test:merge:", time.Second, 100*time.Millisecond)

	t.Run("HeldKeysBlockOtherHolders", func(t *testing.T) {
		unlock, err := l.Lock(ctx, "dup", "canon")
		require.NoError(t, err)

		_, err = l.Lock(ctx, "canon")
		assert.ErrorIs(t, err, ErrLockNotAcquired)

		unlock()
		unlock2, err := l.Lock(ctx, "canon")
		require.NoError(t, err)
		unlock2()
	})

	t.Run("ReleaseLeavesForeignValue", func(t *testing.T) {
		unlock, err := l.Lock(ctx, "stolen")
		require.NoError(t, err)

		// simulate expiry and takeover by another process
		require.NoError(t, rdb.Set(ctx, "test:merge:stolen", "other", time.Second).Err())
		unlock()

		v, err := rdb.Get(ctx, "test:merge:stolen").Result()
		require.NoError(t, err)
		assert.Equal(t, "other", v)
	})

	t.Run("KeysExpire", func(t *testing.T) {
		_, err := l.Lock(ctx, "abandoned")
		require.NoError(t, err)

		ttl, err := rdb.PTTL(ctx, "test:merge:abandoned").Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
		assert.LessOrEqual(t, ttl, time.Second)
	})
}
