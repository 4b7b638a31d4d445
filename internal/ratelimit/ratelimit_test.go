package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiter_AllowsUpToBurstThenBlocks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewLocalLimiter(ctx, Config{RPS: 1, Burst: 3})

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "key-a")
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be within burst", i)
	}
	ok, err := l.Allow(ctx, "key-a")
	require.NoError(t, err)
	assert.False(t, ok, "4th immediate request should exceed the burst")
}

func TestLocalLimiter_KeysAreIndependent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewLocalLimiter(ctx, Config{RPS: 1, Burst: 1})

	ok, err := l.Allow(ctx, "tenant-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, "tenant-b")
	require.NoError(t, err)
	assert.True(t, ok, "a different key must not share tenant-a's bucket")
}

func TestLocalLimiter_SweepEvictsIdleBuckets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewLocalLimiter(ctx, Config{RPS: 1, Burst: 1, CleanupInterval: 10 * time.Millisecond, IdleTimeout: 20 * time.Millisecond})

	_, err := l.Allow(ctx, "stale")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	l.mu.Lock()
	_, exists := l.visitors["stale"]
	l.mu.Unlock()
	assert.False(t, exists, "idle bucket should have been swept")
}

func newTestRedisLimiter(t *testing.T, cfg Config) *RedisLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLimiter(client, cfg)
}

func TestRedisLimiter_AllowsUpToBurstThenBlocks(t *testing.T) {
	l := newTestRedisLimiter(t, Config{RPS: 1, Burst: 2})
	ctx := context.Background()

	ok, err := l.Allow(ctx, "key-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, "key-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, "key-a")
	require.NoError(t, err)
	assert.False(t, ok, "3rd immediate request should exceed the burst of 2")
}

func TestRedisLimiter_KeysAreIndependent(t *testing.T) {
	l := newTestRedisLimiter(t, Config{RPS: 1, Burst: 1})
	ctx := context.Background()

	ok, err := l.Allow(ctx, "tenant-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, "tenant-b")
	require.NoError(t, err)
	assert.True(t, ok)
}
