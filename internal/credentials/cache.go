package credentials

import (
	"sync"
	"time"
)

// minValidity is how long a cached token must remain valid to be handed out.
const minValidity = 60 * time.Second

// TokenCache holds one installation token and its expiry. It is safe for concurrent use.
type TokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenCache creates an empty cache
func NewTokenCache() *TokenCache {
	return &TokenCache{}
}

// Get returns the cached token when it stays valid for more than a minute after now
func (c *TokenCache) Get(now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.validLocked(now)
}

// Set replaces the cached token
func (c *TokenCache) Set(token string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = token
	c.expiresAt = expiresAt
}

// GetOrRefresh returns the cached token or calls refresh while holding the cache lock,
// so concurrent callers observing an expired token trigger a single refresh.
func (c *TokenCache) GetOrRefresh(now time.Time, refresh func() (string, time.Time, error)) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if token, ok := c.validLocked(now); ok {
		return token, nil
	}

	token, expiresAt, err := refresh()
	if err != nil {
		return "", err
	}

	c.token = token
	c.expiresAt = expiresAt
	return token, nil
}

func (c *TokenCache) validLocked(now time.Time) (string, bool) {
	if c.token == "" || c.expiresAt.Sub(now) <= minValidity {
		return "", false
	}
	return c.token, true
}
