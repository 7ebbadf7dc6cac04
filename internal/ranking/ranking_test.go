package ranking

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/domainx/internal/cache"
	"github.com/ZanzyTHEbar/domainx/internal/database"
	apperrors "github.com/ZanzyTHEbar/domainx/internal/errors"
	"github.com/ZanzyTHEbar/domainx/internal/monitoring"
)

type fixture struct {
	repo   *database.Repository
	domain *database.Domain
	libs   map[string]*database.Library
	mets   map[string]*database.Metric
}

func newFixture(t *testing.T, weights map[string]float64, libraries ...string) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(filepath.Join(t.TempDir(), "ranking.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := database.NewRepository(db)
	domain := database.NewDomain("orm", weights)
	require.NoError(t, repo.CreateDomain(ctx, domain))

	f := &fixture{repo: repo, domain: domain, libs: map[string]*database.Library{}, mets: map[string]*database.Metric{}}
	for _, name := range libraries {
		lib := database.NewLibrary(domain.ID, name, "https://github.com/acme/"+name)
		require.NoError(t, repo.CreateLibrary(ctx, lib))
		f.libs[name] = lib
	}
	return f
}

func (f *fixture) metric(t *testing.T, m *database.Metric) {
	t.Helper()
	require.NoError(t, f.repo.CreateMetric(context.Background(), m))
	f.mets[m.Name] = m
}

func (f *fixture) value(t *testing.T, lib, metric, value string) {
	t.Helper()
	require.NoError(t, f.repo.UpsertMetricValues(context.Background(), f.libs[lib].ID, []database.MetricValue{
		{MetricID: f.mets[metric].ID, Value: value},
	}))
}

func newTestEngine(f *fixture, scoring *ScoringConfig) *Engine {
	return NewEngine(f.repo, scoring, nil, monitoring.NewMetrics())
}

func TestCompareIsRatioProportional(t *testing.T) {
	cmp, err := Compare("Quality", map[string]float64{"A": 10, "B": 5})
	require.NoError(t, err)

	assert.InDelta(t, 2.0/3.0, cmp.TargetWeights["A"], 1e-12)
	assert.InDelta(t, 1.0/3.0, cmp.TargetWeights["B"], 1e-12)
	assert.Equal(t, 2.0, cmp.Matrix["A"]["B"])
	assert.Equal(t, 0.5, cmp.Matrix["B"]["A"])
	assert.Equal(t, 0.0, cmp.ConsistencyRatio)
}

func TestCompareSumsToOneAndIsConsistent(t *testing.T) {
	cmp, err := Compare("Popularity", map[string]float64{"a": 3, "b": 7.5, "c": 0.0001, "d": 120})
	require.NoError(t, err)

	var sum float64
	for _, w := range cmp.TargetWeights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.InDelta(t, 0.0, cmp.ConsistencyRatio, 1e-4)
}

func TestCompareSingleEntry(t *testing.T) {
	cmp, err := Compare("Quality", map[string]float64{"only": 42})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, cmp.TargetWeights["only"], 1e-12)
}

func TestCompareRejectsNonPositive(t *testing.T) {
	_, err := Compare("Quality", map[string]float64{"A": 0, "B": 1})
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryValidation))

	_, err = Compare("Quality", map[string]float64{})
	assert.Error(t, err)
}

func TestRankWorkedExample(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]float64{"Quality": 1.0}, "A", "B")
	f.metric(t, database.NewMetric("Stars", "Quality", "integer"))
	f.value(t, "A", "Stars", "10")
	f.value(t, "B", "Stars", "5")

	result, err := newTestEngine(f, &ScoringConfig{Categories: []string{"Quality"}}).Rank(ctx, f.domain.ID)
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{"A": 0.6667, "B": 0.3333}, result.GlobalRanking)
	assert.InDelta(t, 2.0/3.0, result.CategoryDetails["Quality"]["A"], 1e-9)
	assert.InDelta(t, 1.0, result.CategoryWeights["Quality"], 1e-12)

	lib, err := f.repo.GetLibrary(ctx, f.libs["A"].ID)
	require.NoError(t, err)
	require.NotNil(t, lib.RankingResults)
	assert.Equal(t, 0.6667, lib.RankingResults.OverallScore)
	assert.InDelta(t, 2.0/3.0, lib.RankingResults.CategoryScores["Quality"], 1e-9)
	assert.Equal(t, database.StatusPending, lib.Analysis.Status)

	domain, err := f.repo.GetDomain(ctx, f.domain.ID)
	require.NoError(t, err)
	assert.Contains(t, domain.ComparisonMatrices, "Quality")
}

func TestRankEpsilonClamp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "A", "B", "C")
	f.metric(t, database.NewMetric("Stars", "Quality", "integer"))
	f.value(t, "A", "Stars", "0")
	f.value(t, "B", "Stars", "5")
	f.value(t, "C", "Stars", "not-a-number")

	result, err := newTestEngine(f, &ScoringConfig{Categories: []string{"Quality"}}).Rank(ctx, f.domain.ID)
	require.NoError(t, err)

	local := result.CategoryDetails["Quality"]
	assert.InDelta(t, Epsilon/(5+2*Epsilon), local["A"], 1e-12)
	assert.InDelta(t, local["A"], local["C"], 1e-12)
	assert.Greater(t, local["B"], 0.99)
}

func TestRankLibraryWithoutValuesParticipates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "A", "B")
	f.metric(t, database.NewMetric("Stars", "Quality", "integer"))
	f.value(t, "A", "Stars", "7")

	result, err := newTestEngine(f, nil).Rank(ctx, f.domain.ID)
	require.NoError(t, err)

	require.Contains(t, result.GlobalRanking, "B")
	assert.Greater(t, result.GlobalRanking["A"], result.GlobalRanking["B"])
}

func TestRankRuleLookups(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "A", "B", "C")

	license := database.NewMetric("License", "Legal", "choice")
	license.OptionCategory = "License"
	license.Rule = "permissive"
	f.metric(t, license)

	f.value(t, "A", "License", "MIT")
	f.value(t, "B", "License", "GPL")
	f.value(t, "C", "License", "Proprietary")

	scoring := &ScoringConfig{
		Categories: []string{"Legal"},
		Rules: RuleTable{"choice": {"License": {Templates: map[string]map[string]float64{
			"permissive": {"MIT": 4, "GPL": 1},
		}}}},
	}

	result, err := newTestEngine(f, scoring).Rank(ctx, f.domain.ID)
	require.NoError(t, err)

	local := result.CategoryDetails["Legal"]
	assert.InDelta(t, 4.0/(5+Epsilon), local["A"], 1e-9)
	assert.InDelta(t, 1.0/(5+Epsilon), local["B"], 1e-9)
	assert.InDelta(t, Epsilon/(5+Epsilon), local["C"], 1e-9)
}

func TestRankNormalizesWeightsAcrossCategories(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]float64{"Quality": 3, "Unused": 10}, "A", "B")
	f.metric(t, database.NewMetric("Stars", "Quality", "integer"))
	f.metric(t, database.NewMetric("Forks", "Popularity", "integer"))
	f.value(t, "A", "Stars", "10")
	f.value(t, "B", "Stars", "30")
	f.value(t, "A", "Forks", "9")
	f.value(t, "B", "Forks", "1")

	result, err := newTestEngine(f, &ScoringConfig{Categories: []string{"Quality", "Unused"}}).Rank(ctx, f.domain.ID)
	require.NoError(t, err)

	assert.NotContains(t, result.CategoryWeights, "Unused")
	assert.InDelta(t, 0.75, result.CategoryWeights["Quality"], 1e-12)
	assert.InDelta(t, 0.25, result.CategoryWeights["Popularity"], 1e-12)

	var weightSum float64
	for _, w := range result.CategoryWeights {
		weightSum += w
	}
	assert.InDelta(t, 1.0, weightSum, 1e-9)

	for category, local := range result.CategoryDetails {
		var sum float64
		for _, p := range local {
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-9, category)
	}

	// A: 0.25*0.75 + 0.9*0.25, B: 0.75*0.75 + 0.1*0.25
	assert.Equal(t, 0.4125, result.GlobalRanking["A"])
	assert.Equal(t, 0.5875, result.GlobalRanking["B"])
}

func TestNormalizeWeightsZeroTotal(t *testing.T) {
	comparisons := []*Comparison{{Name: "Quality"}, {Name: "Popularity"}}
	weights := NormalizeWeights(map[string]float64{"Quality": 0, "Popularity": 0}, comparisons)
	assert.Equal(t, map[string]float64{"Quality": 0, "Popularity": 0}, weights)
}

func TestRankMonotonicity(t *testing.T) {
	ctx := context.Background()
	for _, w := range []float64{0.5, 1, 2, 5, 20} {
		f := newFixture(t, map[string]float64{"Quality": w, "Popularity": 1}, "A", "B")
		f.metric(t, database.NewMetric("Stars", "Quality", "integer"))
		f.metric(t, database.NewMetric("Forks", "Popularity", "integer"))
		f.value(t, "A", "Stars", "50")
		f.value(t, "B", "Stars", "10")
		f.value(t, "A", "Forks", "6")
		f.value(t, "B", "Forks", "5")

		result, err := newTestEngine(f, nil).Rank(ctx, f.domain.ID)
		require.NoError(t, err)
		assert.Greater(t, result.GlobalRanking["A"], result.GlobalRanking["B"], "weight %v", w)
	}
}

func TestRankDoesNotTouchMetricValues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "A")
	f.metric(t, database.NewMetric("Stars", "Quality", "integer"))
	f.value(t, "A", "Stars", "-3")

	before, err := f.repo.ListMetricValues(ctx, []string{f.libs["A"].ID})
	require.NoError(t, err)

	result, err := newTestEngine(f, nil).Rank(ctx, f.domain.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.GlobalRanking["A"])

	after, err := f.repo.ListMetricValues(ctx, []string{f.libs["A"].ID})
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRankUnknownDomain(t *testing.T) {
	f := newFixture(t, nil)
	_, err := newTestEngine(f, nil).Rank(context.Background(), "missing")
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryNotFound))
}

func TestRankDuplicateNamesStayDistinct(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "A")
	twin := database.NewLibrary(f.domain.ID, "A", "https://github.com/other/A")
	require.NoError(t, f.repo.CreateLibrary(ctx, twin))
	f.metric(t, database.NewMetric("Stars", "Quality", "integer"))

	result, err := newTestEngine(f, nil).Rank(ctx, f.domain.ID)
	require.NoError(t, err)
	assert.Len(t, result.GlobalRanking, 2)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadScoringConfigJSON(t *testing.T) {
	cats := writeFile(t, "categories.json", `{"Categories": ["Popularity", "Quality"]}`)
	rules := writeFile(t, "rules.json", `{"choice": {"License": {"templates": {"permissive": {"MIT": 5, "GPL": 1}}}}}`)

	cfg, err := LoadScoringConfig(cats, rules)
	require.NoError(t, err)

	assert.Equal(t, []string{"Popularity", "Quality"}, cfg.Categories)
	score, ok := cfg.Rules.Lookup("choice", "License", "permissive", "MIT")
	assert.True(t, ok)
	assert.Equal(t, 5.0, score)

	_, ok = cfg.Rules.Lookup("choice", "License", "permissive", "BSD")
	assert.False(t, ok)
	_, ok = cfg.Rules.Lookup("boolean", "License", "permissive", "MIT")
	assert.False(t, ok)
}

func TestLoadScoringConfigYAML(t *testing.T) {
	cats := writeFile(t, "categories.yaml", "Categories:\n  - Quality\n")
	rules := writeFile(t, "rules.yml", `
choice:
  Maturity:
    templates:
      stage:
        Stable: 3
        Beta: 1.5
`)

	cfg, err := LoadScoringConfig(cats, rules)
	require.NoError(t, err)

	score, ok := cfg.Rules.Lookup("choice", "Maturity", "stage", "Beta")
	assert.True(t, ok)
	assert.Equal(t, 1.5, score)
}

func TestLoadScoringConfigErrors(t *testing.T) {
	goodCats := writeFile(t, "categories.json", `{"Categories": ["Quality"]}`)
	goodRules := writeFile(t, "rules.json", `{}`)

	tests := []struct {
		name  string
		cats  string
		rules string
	}{
		{"missing file", filepath.Join(t.TempDir(), "nope.json"), goodRules},
		{"categories not a list", writeFile(t, "c.json", `{"Categories": "Quality"}`), goodRules},
		{"duplicate category", writeFile(t, "c.json", `{"Categories": ["Quality", "Quality"]}`), goodRules},
		{"score not numeric", goodCats, writeFile(t, "r.json", `{"choice": {"License": {"templates": {"p": {"MIT": "high"}}}}}`)},
		{"no templates", goodCats, writeFile(t, "r.json", `{"choice": {"License": {}}}`)},
		{"malformed yaml", goodCats, writeFile(t, "r.yaml", "choice: [unclosed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScoringConfig(tt.cats, tt.rules)
			require.Error(t, err)
			assert.True(t, apperrors.IsCategory(err, apperrors.CategoryConfiguration))
		})
	}
}

func TestRankingCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "A", "B")
	f.metric(t, database.NewMetric("Stars", "Quality", "integer"))
	f.value(t, "A", "Stars", "10")
	f.value(t, "B", "Stars", "5")

	store := cache.NewCache(time.Minute)
	t.Cleanup(func() { _ = store.Close() })
	rc := NewRankingCache(store)
	engine := newTestEngine(f, nil)

	first, hit, err := rc.GetOrRank(ctx, engine, f.domain.ID)
	require.NoError(t, err)
	assert.False(t, hit)

	f.value(t, "B", "Stars", "30")

	cached, hit, err := rc.GetOrRank(ctx, engine, f.domain.ID)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first.GlobalRanking, cached.GlobalRanking)

	rc.Invalidate(ctx, f.domain.ID)

	fresh, hit, err := rc.GetOrRank(ctx, engine, f.domain.ID)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Greater(t, fresh.GlobalRanking["B"], fresh.GlobalRanking["A"])
}

func TestNilRankingCacheIsInert(t *testing.T) {
	var rc *RankingCache
	rc.Invalidate(context.Background(), "x")
	_, ok := rc.Get(context.Background(), "x")
	assert.False(t, ok)
	assert.Equal(t, false, rc.Stats()["enabled"])
}
