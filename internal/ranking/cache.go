package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ZanzyTHEbar/domainx/internal/cache"
)

// Ranker computes the ranking of a domain.
type Ranker interface {
	Rank(ctx context.Context, domainID string) (*Result, error)
}

// RankingCache caches computed rankings per domain
type RankingCache struct {
	store cache.Store
}

// NewRankingCache creates a ranking cache over store
func NewRankingCache(store cache.Store) *RankingCache {
	return &RankingCache{store: store}
}

func cacheKey(domainID string) string {
	return fmt.Sprintf("ranking:%s", domainID)
}

// Get retrieves a cached ranking
func (rc *RankingCache) Get(ctx context.Context, domainID string) (*Result, bool) {
	if rc == nil {
		return nil, false
	}

	data, found := rc.store.Get(ctx, cacheKey(domainID))
	if !found {
		return nil, false
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		slog.Error("Failed to unmarshal cached ranking", "error", err, "domain_id", domainID)
		return nil, false
	}

	slog.Debug("Ranking cache hit", "domain_id", domainID)
	return &result, true
}

// Set caches a ranking
func (rc *RankingCache) Set(ctx context.Context, domainID string, result *Result) {
	if rc == nil || result == nil {
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		slog.Error("Failed to marshal ranking for cache", "error", err, "domain_id", domainID)
		return
	}

	rc.store.Set(ctx, cacheKey(domainID), data)
	slog.Debug("Ranking cached", "domain_id", domainID, "libraries", len(result.GlobalRanking))
}

// Invalidate drops the cached ranking of a domain
func (rc *RankingCache) Invalidate(ctx context.Context, domainID string) {
	if rc == nil {
		return
	}
	rc.store.Delete(ctx, cacheKey(domainID))
	slog.Debug("Ranking cache invalidated", "domain_id", domainID)
}

// GetOrRank returns the cached ranking of a domain, computing and caching it on a miss.
// The boolean reports whether the result came from the cache.
func (rc *RankingCache) GetOrRank(ctx context.Context, ranker Ranker, domainID string) (*Result, bool, error) {
	if result, ok := rc.Get(ctx, domainID); ok {
		return result, true, nil
	}

	result, err := ranker.Rank(ctx, domainID)
	if err != nil {
		return nil, false, err
	}
	rc.Set(ctx, domainID, result)
	return result, false, nil
}

// Stats returns cache statistics
func (rc *RankingCache) Stats() map[string]interface{} {
	if rc == nil {
		return map[string]interface{}{"enabled": false}
	}
	return rc.store.Stats()
}
