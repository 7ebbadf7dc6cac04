// Package ranking turns stored metric values into per-domain rankings using
// per-category pairwise comparison and weighted aggregation.
package ranking

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/domainx/internal/database"
	"github.com/ZanzyTHEbar/domainx/internal/monitoring"
)

// Epsilon replaces non-positive raw category scores.
const Epsilon = 1e-4

// Store is the persistence surface the engine reads from and writes results to.
type Store interface {
	GetDomain(ctx context.Context, id string) (*database.Domain, error)
	ListLibrariesByDomain(ctx context.Context, domainID string) ([]*database.Library, error)
	ListMetrics(ctx context.Context) ([]*database.Metric, error)
	ListMetricValues(ctx context.Context, libraryIDs []string) ([]database.MetricValue, error)
	SaveRankingResult(ctx context.Context, libraryID string, result database.RankingResult) error
	SaveComparisonMatrices(ctx context.Context, domainID string, matrices any) error
}

// Result is the ranking of one domain. Maps are keyed by library name.
type Result struct {
	DomainID        string                        `json:"domain_id"`
	Domain          string                        `json:"domain"`
	GlobalRanking   map[string]float64            `json:"global_ranking"`
	CategoryDetails map[string]map[string]float64 `json:"category_details"`
	CategoryWeights map[string]float64            `json:"category_weights"`
	ComputedAt      time.Time                     `json:"computed_at"`
}

// Engine computes rankings
type Engine struct {
	store   Store
	scoring *ScoringConfig
	logger  *monitoring.Logger
	metrics *monitoring.Metrics
	now     func() time.Time
}

// NewEngine creates a ranking engine
func NewEngine(store Store, scoring *ScoringConfig, logger *monitoring.Logger, metrics *monitoring.Metrics) *Engine {
	if scoring == nil {
		scoring = &ScoringConfig{}
	}
	if logger == nil {
		logger = monitoring.NewLoggerWithWriter(io.Discard, "error", "json")
	}
	return &Engine{
		store:   store,
		scoring: scoring,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Rank computes and persists the ranking of every library in a domain
func (e *Engine) Rank(ctx context.Context, domainID string) (*Result, error) {
	start := time.Now()

	result, err := e.rank(ctx, domainID)
	if err != nil {
		e.metrics.RecordRanking("error", time.Since(start))
		return nil, err
	}

	e.metrics.RecordRanking("success", time.Since(start))
	e.logger.RankingLogger(domainID, len(result.GlobalRanking), len(result.CategoryDetails), time.Since(start))
	return result, nil
}

func (e *Engine) rank(ctx context.Context, domainID string) (*Result, error) {
	domain, err := e.store.GetDomain(ctx, domainID)
	if err != nil {
		return nil, err
	}

	libraries, err := e.store.ListLibrariesByDomain(ctx, domainID)
	if err != nil {
		return nil, err
	}

	catalog, err := e.store.ListMetrics(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(libraries))
	for i, lib := range libraries {
		ids[i] = lib.ID
	}
	stored, err := e.store.ListMetricValues(ctx, ids)
	if err != nil {
		return nil, err
	}

	values := make(map[string]map[string]string, len(libraries))
	for _, v := range stored {
		if values[v.LibraryID] == nil {
			values[v.LibraryID] = make(map[string]string)
		}
		values[v.LibraryID][v.MetricID] = v.Value
	}

	names := libraryNames(libraries)
	byCategory := groupByCategory(catalog)

	var comparisons []*Comparison
	if len(libraries) > 0 {
		for _, category := range e.categoryUniverse(byCategory) {
			metrics := byCategory[category]
			if len(metrics) == 0 {
				continue
			}

			scores := make(map[string]float64, len(libraries))
			for _, lib := range libraries {
				raw := e.rawScore(lib.ID, metrics, values[lib.ID])
				if raw <= 0 {
					raw = Epsilon
				}
				scores[names[lib.ID]] = raw
			}

			cmp, err := Compare(category, scores)
			if err != nil {
				return nil, fmt.Errorf("failed to compare category %s: %w", category, err)
			}
			comparisons = append(comparisons, cmp)
		}
	}

	weights := NormalizeWeights(domain.CategoryWeights, comparisons)

	result := &Result{
		DomainID:        domain.ID,
		Domain:          domain.Name,
		GlobalRanking:   make(map[string]float64, len(libraries)),
		CategoryDetails: make(map[string]map[string]float64, len(comparisons)),
		CategoryWeights: weights,
		ComputedAt:      e.now().UTC(),
	}
	matrices := make(map[string]any, len(comparisons))
	for _, cmp := range comparisons {
		result.CategoryDetails[cmp.Name] = cmp.TargetWeights
		matrices[cmp.Name] = cmp
	}

	for _, lib := range libraries {
		name := names[lib.ID]
		categoryScores := make(map[string]float64, len(comparisons))
		overall := 0.0
		for _, cmp := range comparisons {
			local := cmp.TargetWeights[name]
			overall += local * weights[cmp.Name]
			categoryScores[cmp.Name] = local
		}
		overall = round(overall, 4)
		result.GlobalRanking[name] = overall

		if err := e.store.SaveRankingResult(ctx, lib.ID, database.RankingResult{
			CategoryScores: categoryScores,
			OverallScore:   overall,
			ComputedAt:     result.ComputedAt,
		}); err != nil {
			return nil, err
		}
	}

	if err := e.store.SaveComparisonMatrices(ctx, domain.ID, matrices); err != nil {
		return nil, err
	}

	return result, nil
}

// categoryUniverse lists configured categories first, then any other catalog category sorted.
func (e *Engine) categoryUniverse(byCategory map[string][]*database.Metric) []string {
	seen := make(map[string]struct{}, len(e.scoring.Categories))
	out := make([]string, 0, len(byCategory))
	for _, c := range e.scoring.Categories {
		seen[c] = struct{}{}
		out = append(out, c)
	}

	var extra []string
	for c := range byCategory {
		if _, ok := seen[c]; !ok {
			extra = append(extra, c)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

// rawScore sums the contributions of metrics for one library. Missing or
// unparseable values contribute zero.
func (e *Engine) rawScore(libraryID string, metrics []*database.Metric, values map[string]string) float64 {
	var total float64
	for _, m := range metrics {
		value, ok := values[m.ID]
		if !ok {
			continue
		}

		if m.OptionCategory != "" {
			score, found := e.scoring.Rules.Lookup(m.ValueType, m.OptionCategory, m.Rule, value)
			if !found {
				e.skip(libraryID, m, value, "ranking_rule_miss")
			}
			total += score
			continue
		}

		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			e.skip(libraryID, m, value, "ranking_unparseable")
			continue
		}
		total += f
	}
	return total
}

func (e *Engine) skip(libraryID string, m *database.Metric, value, reason string) {
	e.metrics.IncrementSkippedValue(reason)
	e.logger.Debug("Metric value scored as zero",
		"library_id", libraryID,
		"metric", m.Name,
		"value", value,
		"reason", reason,
	)
}

// NormalizeWeights restricts weights to compared categories, defaults absent
// entries to 1.0 and scales them to sum to 1. A zero total leaves them unscaled.
func NormalizeWeights(weights map[string]float64, comparisons []*Comparison) map[string]float64 {
	raw := make(map[string]float64, len(comparisons))
	var total float64
	for _, cmp := range comparisons {
		w, ok := weights[cmp.Name]
		if !ok {
			w = 1.0
		}
		if w < 0 || math.IsNaN(w) {
			w = 0
		}
		raw[cmp.Name] = w
		total += w
	}

	if total == 0 {
		total = 1
	}
	for k, w := range raw {
		raw[k] = w / total
	}
	return raw
}

func groupByCategory(metrics []*database.Metric) map[string][]*database.Metric {
	out := make(map[string][]*database.Metric)
	for _, m := range metrics {
		out[m.Category] = append(out[m.Category], m)
	}
	return out
}

// libraryNames keys libraries by name, suffixing the id when two share a name.
func libraryNames(libraries []*database.Library) map[string]string {
	count := make(map[string]int, len(libraries))
	for _, lib := range libraries {
		count[lib.Name]++
	}

	out := make(map[string]string, len(libraries))
	for _, lib := range libraries {
		name := lib.Name
		if count[name] > 1 {
			short := lib.ID
			if len(short) > 8 {
				short = short[:8]
			}
			name = fmt.Sprintf("%s [%s]", name, short)
		}
		out[lib.ID] = name
	}
	return out
}
