package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounterStore backs the limiter with Redis INCR + EXPIRE.
type RedisCounterStore struct {
	client *redis.Client
}

// NewRedisCounterStore wraps a Redis client as a CounterStore.
func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

// Incr increments the window counter, arming the TTL on first hit.
func (s *RedisCounterStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	remaining := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("incr %s: %w", key, err)
	}

	count := incr.Val()
	left := remaining.Val()

	// A fresh key has no expiry yet; arm it so the window self-clears.
	if count == 1 || left < 0 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return count, ttl, fmt.Errorf("expire %s: %w", key, err)
		}
		left = ttl
	}

	return count, left, nil
}
