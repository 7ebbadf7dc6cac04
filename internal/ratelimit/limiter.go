// Package ratelimit throttles outbound API calls and inbound trigger requests,
// with Redis-backed buckets shared across processes and an in-process fallback.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"golang.org/x/time/rate"

	"github.com/ZanzyTHEbar/domainx/internal/monitoring"
)

// Endpoint classes of the source-hosting API.
const (
	ClassCore   = "core"
	ClassSearch = "search"
)

const (
	keyPrefix     = "domainx:ratelimit:"
	minRetryDelay = 50 * time.Millisecond
)

// Rate is a request budget over a period.
type Rate struct {
	Limit  int
	Period time.Duration
}

// PerMinute builds a Rate of n requests per minute
func PerMinute(n int) Rate {
	return Rate{Limit: n, Period: time.Minute}
}

// Result represents the result of a rate limit check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RateLimiter hands out request budgets keyed by name
type RateLimiter struct {
	redisLimiter *redis_rate.Limiter
	redisClient  *RedisClient
	metrics      *monitoring.Metrics
	classes      map[string]Rate

	fallbackMu sync.Mutex
	fallback   map[string]*rate.Limiter
}

// NewRateLimiter creates a limiter. classes configures the budgets used by Wait;
// redisClient may be nil or disabled.
func NewRateLimiter(redisClient *RedisClient, classes map[string]Rate, metrics *monitoring.Metrics) *RateLimiter {
	rl := &RateLimiter{
		redisClient: redisClient,
		metrics:     metrics,
		classes:     classes,
		fallback:    make(map[string]*rate.Limiter),
	}

	if redisClient.IsEnabled() {
		rl.redisLimiter = redis_rate.NewLimiter(redisClient.Client())
		slog.Info("Redis rate limiter initialized")
	} else {
		slog.Info("Using in-process rate limiting")
	}

	return rl
}

// Wait blocks until the named class has budget or ctx ends. Unknown classes are not throttled.
func (rl *RateLimiter) Wait(ctx context.Context, class string) error {
	r, ok := rl.classes[class]
	if !ok || r.Limit <= 0 {
		return nil
	}

	key := keyPrefix + "github:" + class

	if rl.redisLimiter == nil {
		return rl.fallbackLimiter(key, r).Wait(ctx)
	}

	for {
		res, err := rl.Allow(ctx, key, r)
		if err != nil {
			return err
		}
		if res.Allowed {
			return nil
		}

		rl.metrics.IncrementRateLimit(class, "wait")

		delay := res.RetryAfter
		if delay < minRetryDelay {
			delay = minRetryDelay
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Allow consumes one request from key's budget without blocking.
// A Redis failure degrades to the in-process bucket for this call.
func (rl *RateLimiter) Allow(ctx context.Context, key string, r Rate) (*Result, error) {
	if rl.redisLimiter != nil {
		result, err := rl.allowRedis(ctx, key, r)
		if err == nil {
			return result, nil
		}
		slog.Warn("Redis rate limit check failed, using fallback", "key", key, "error", err)
		rl.metrics.IncrementRateLimit(key, "redis_error")
	}

	return rl.allowFallback(key, r), nil
}

func (rl *RateLimiter) allowRedis(ctx context.Context, key string, r Rate) (*Result, error) {
	res, err := rl.redisLimiter.Allow(ctx, key, redis_rate.Limit{
		Rate:   r.Limit,
		Burst:  r.Limit,
		Period: r.Period,
	})
	if err != nil {
		return nil, fmt.Errorf("redis rate limit check failed: %w", err)
	}

	return &Result{
		Allowed:    res.Allowed > 0,
		Limit:      res.Limit.Rate,
		Remaining:  res.Remaining,
		ResetAt:    time.Now().Add(res.ResetAfter),
		RetryAfter: res.RetryAfter,
	}, nil
}

func (rl *RateLimiter) allowFallback(key string, r Rate) *Result {
	limiter := rl.fallbackLimiter(key, r)
	now := time.Now()

	reservation := limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
		return &Result{
			Allowed:    false,
			Limit:      r.Limit,
			Remaining:  0,
			ResetAt:    now.Add(delay),
			RetryAfter: delay,
		}
	}

	remaining := int(limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}

	return &Result{
		Allowed:   true,
		Limit:     r.Limit,
		Remaining: remaining,
		ResetAt:   now.Add(r.Period),
	}
}

func (rl *RateLimiter) fallbackLimiter(key string, r Rate) *rate.Limiter {
	rl.fallbackMu.Lock()
	defer rl.fallbackMu.Unlock()

	limiter, exists := rl.fallback[key]
	if !exists {
		every := r.Period / time.Duration(r.Limit)
		limiter = rate.NewLimiter(rate.Every(every), r.Limit)
		rl.fallback[key] = limiter
	}
	return limiter
}

// Stats reports limiter state for the health endpoint
func (rl *RateLimiter) Stats() map[string]any {
	rl.fallbackMu.Lock()
	fallbackCount := len(rl.fallback)
	rl.fallbackMu.Unlock()

	return map[string]any{
		"redis_enabled":     rl.redisLimiter != nil,
		"fallback_limiters": fallbackCount,
		"redis_pool":        rl.redisClient.PoolStats(),
	}
}
