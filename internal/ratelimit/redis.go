package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window limiter for multi-instance
// deployments. INCR is atomic on the server, so concurrent instances
// share one counter per key.
type RedisLimiter struct {
	client    *redis.Client
	window    time.Duration
	threshold int
}

func NewRedisLimiter(client *redis.Client, window time.Duration, threshold int) *RedisLimiter {
	if window <= 0 {
		window = 15 * time.Minute
	}
	if threshold <= 0 {
		threshold = 6
	}
	return &RedisLimiter{client: client, window: window, threshold: threshold}
}

func (l *RedisLimiter) key(key string) string {
	return "ratelimit:" + key
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Get(ctx, l.key(key)).Int()
	if err == redis.Nil {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("ratelimit get: %w", err)
	}
	return n < l.threshold, nil
}

func (l *RedisLimiter) RecordFailure(ctx context.Context, key string) error {
	k := l.key(key)
	n, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return fmt.Errorf("ratelimit incr: %w", err)
	}
	if n == 1 {
		// First failure in this window starts the expiry.
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return fmt.Errorf("ratelimit expire: %w", err)
		}
	}
	return nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("ratelimit del: %w", err)
	}
	return nil
}
