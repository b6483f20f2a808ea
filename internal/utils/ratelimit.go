package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter throttles requests per key using Redis counters. Buckets are
// fixed windows keyed by the window's start second, so every facade
// instance sharing the Redis sees the same budget.
type Limiter struct {
	client   *redis.Client
	log      *zap.Logger
	failOpen bool
}

// NewLimiter creates a limiter. When failOpen is true, a Redis error
// lets the request through instead of rejecting it.
func NewLimiter(client *redis.Client, log *zap.Logger, failOpen bool) *Limiter {
	return &Limiter{
		client:   client,
		log:      log,
		failOpen: failOpen,
	}
}

// Allow reports whether one more request for key fits within limit per
// window.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return l.AllowN(ctx, key, 1, limit, window)
}

// AllowN consumes n units of key's budget.
func (l *Limiter) AllowN(ctx context.Context, key string, n, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	bucketKey := l.bucketKey(key, now, window)

	pipe := l.client.Pipeline()
	incr := pipe.IncrBy(ctx, bucketKey, int64(n))
	pipe.Expire(ctx, bucketKey, window+time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		if l.failOpen {
			l.log.Warn("rate limit check failed, allowing request",
				zap.String("key", key),
				zap.Error(err),
			)
			return true, nil
		}
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := incr.Val()
	allowed := count <= int64(limit)
	if !allowed {
		l.log.Warn("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int("limit", limit),
		)
	}
	return allowed, nil
}

// Reset clears the current and previous window for key.
func (l *Limiter) Reset(ctx context.Context, key string, window time.Duration) error {
	now := time.Now()
	keys := []string{
		l.bucketKey(key, now, window),
		l.bucketKey(key, now.Add(-window), window),
	}
	if err := l.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("reset rate limit for key %s: %w", key, err)
	}
	return nil
}

func (l *Limiter) bucketKey(key string, now time.Time, window time.Duration) string {
	bucket := now.Unix() / int64(window.Seconds())
	return fmt.Sprintf("ratelimit:%s:%d", key, bucket)
}
