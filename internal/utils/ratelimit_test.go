package utils

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestLimiter_Allow(t *testing.T) {
	limiter := NewLimiter(setupTestRedis(t), zap.NewNop(), false)

	ctx := context.Background()
	key := "user:123"
	limit := 5
	window := time.Minute

	for i := 0; i < limit; i++ {
		allowed, err := limiter.Allow(ctx, key, limit, window)
		assert.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i+1)
	}

	allowed, err := limiter.Allow(ctx, key, limit, window)
	assert.NoError(t, err)
	assert.False(t, allowed, "request over the limit should be denied")
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewLimiter(setupTestRedis(t), zap.NewNop(), false)
	ctx := context.Background()

	allowed, err := limiter.AllowN(ctx, "ip:1.2.3.4", 3, 3, time.Minute)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "ip:1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = limiter.Allow(ctx, "ip:5.6.7.8", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed, "an exhausted key must not affect others")
}

func TestLimiter_Reset(t *testing.T) {
	limiter := NewLimiter(setupTestRedis(t), zap.NewNop(), false)
	ctx := context.Background()

	allowed, err := limiter.AllowN(ctx, "user:9", 2, 2, time.Minute)
	require.NoError(t, err)
	require.True(t, allowed)

	require.NoError(t, limiter.Reset(ctx, "user:9", time.Minute))

	allowed, err = limiter.Allow(ctx, "user:9", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed, "budget should be fresh after reset")
}

func TestLimiter_FailOpen(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	ctx := context.Background()

	open := NewLimiter(client, zap.NewNop(), true)
	allowed, err := open.Allow(ctx, "user:1", 1, time.Minute)
	assert.NoError(t, err)
	assert.True(t, allowed, "fail-open limiter should allow when redis is down")

	closed := NewLimiter(client, zap.NewNop(), false)
	allowed, err = closed.Allow(ctx, "user:1", 1, time.Minute)
	assert.Error(t, err)
	assert.False(t, allowed)
}
