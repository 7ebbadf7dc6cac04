package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix   = "domainx:queue:"
	pollTimeout = 2 * time.Second
)

// RedisQueue is a list-backed queue shared by every process pointing at the same Redis
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue creates a queue stored under domainx:queue:<name>
func NewRedisQueue(client *redis.Client, name string) *RedisQueue {
	return &RedisQueue{client: client, key: keyPrefix + name}
}

// Key returns the Redis list key
func (q *RedisQueue) Key() string {
	return q.key
}

// Publish pushes the task onto the list head
func (q *RedisQueue) Publish(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}

	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to publish task to %s: %w", q.key, err)
	}
	return nil
}

// Consume pops tasks from the list tail until ctx ends. A popped task is never redelivered.
func (q *RedisQueue) Consume(ctx context.Context, h Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		res, err := q.client.BRPop(ctx, pollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("Queue poll failed", "key", q.key, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollTimeout):
			}
			continue
		}

		// BRPOP answers [key, value]
		if len(res) != 2 {
			continue
		}

		var task Task
		if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
			slog.Error("Dropping undecodable task", "key", q.key, "error", err)
			continue
		}

		_ = h(ctx, task)
	}
}

// Len returns the number of pending tasks
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Close is a no-op; the Redis client is owned by the caller
func (q *RedisQueue) Close() error {
	return nil
}
