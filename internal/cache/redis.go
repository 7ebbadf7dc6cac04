package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "domainx:cache:"

// RedisCache stores entries in Redis so every process sharing the instance sees
// the same entries and invalidations.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed store
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Get retrieves an item. Redis failures are reported as a miss.
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("Cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	return data, true
}

// Set stores an item with the configured TTL
func (r *RedisCache) Set(ctx context.Context, key string, data []byte) {
	if err := r.client.Set(ctx, redisKeyPrefix+key, data, r.ttl).Err(); err != nil {
		slog.Warn("Cache write failed", "key", key, "error", err)
	}
}

// Delete removes an item
func (r *RedisCache) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		slog.Warn("Cache delete failed", "key", key, "error", err)
	}
}

// Stats returns cache statistics
func (r *RedisCache) Stats() map[string]interface{} {
	return map[string]interface{}{
		"backend":     "redis",
		"ttl_seconds": r.ttl.Seconds(),
	}
}
