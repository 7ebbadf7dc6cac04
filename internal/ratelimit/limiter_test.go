package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/domainx/internal/monitoring"
)

func newFallbackLimiter(classes map[string]Rate) *RateLimiter {
	return NewRateLimiter(&RedisClient{enabled: false}, classes, monitoring.NewMetrics())
}

func TestRateLimiterFallbackMode(t *testing.T) {
	limiter := newFallbackLimiter(nil)
	ctx := context.Background()
	r := PerMinute(5)

	for i := 0; i < 5; i++ {
		result, err := limiter.Allow(ctx, "test:repo", r)
		require.NoError(t, err)
		assert.True(t, result.Allowed, "Request %d should be allowed", i+1)
		assert.Equal(t, 5, result.Limit)
	}

	result, err := limiter.Allow(ctx, "test:repo", r)
	require.NoError(t, err)
	assert.False(t, result.Allowed, "6th request should be blocked")
	assert.Greater(t, result.RetryAfter, time.Duration(0))
}

func TestRateLimiterMultipleKeys(t *testing.T) {
	limiter := newFallbackLimiter(nil)
	ctx := context.Background()
	r := PerMinute(3)

	for _, key := range []string{"k:1", "k:2", "k:3"} {
		for i := 0; i < 3; i++ {
			result, err := limiter.Allow(ctx, key, r)
			require.NoError(t, err)
			assert.True(t, result.Allowed, "Key %s request %d should be allowed", key, i+1)
		}

		result, err := limiter.Allow(ctx, key, r)
		require.NoError(t, err)
		assert.False(t, result.Allowed, "Key %s 4th request should be blocked", key)
	}
}

func TestRateLimiterConcurrency(t *testing.T) {
	limiter := newFallbackLimiter(nil)
	ctx := context.Background()
	r := Rate{Limit: 100, Period: time.Hour}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				result, err := limiter.Allow(ctx, "test:concurrent", r)
				assert.NoError(t, err)
				if result.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, allowed)
}

func TestWaitUnknownClassIsNotThrottled(t *testing.T) {
	limiter := newFallbackLimiter(map[string]Rate{ClassCore: PerMinute(1)})

	for i := 0; i < 10; i++ {
		require.NoError(t, limiter.Wait(context.Background(), "other"))
	}
}

func TestWaitBlocksUntilContextEnds(t *testing.T) {
	limiter := newFallbackLimiter(map[string]Rate{ClassSearch: PerMinute(1)})

	require.NoError(t, limiter.Wait(context.Background(), ClassSearch))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx, ClassSearch)
	assert.Error(t, err)
}

func TestWaitRefills(t *testing.T) {
	limiter := newFallbackLimiter(map[string]Rate{ClassCore: {Limit: 2, Period: 100 * time.Millisecond}})

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Wait(context.Background(), ClassCore))
	}
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestStats(t *testing.T) {
	limiter := newFallbackLimiter(nil)
	_, _ = limiter.Allow(context.Background(), "test:stats", PerMinute(5))

	stats := limiter.Stats()
	assert.Equal(t, false, stats["redis_enabled"])
	assert.Equal(t, 1, stats["fallback_limiters"])
}

func TestIPThrottle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := newFallbackLimiter(nil)

	router := gin.New()
	router.POST("/trigger", limiter.IPThrottle("trigger", PerMinute(2)), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/trigger", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
		last = w
	}

	assert.Equal(t, []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}, codes)
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
	assert.Equal(t, "2", last.Header().Get("X-RateLimit-Limit"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/trigger", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code, "other clients keep their own budget")
}
