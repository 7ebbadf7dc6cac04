package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/domainx/internal/cache"
	"github.com/ZanzyTHEbar/domainx/internal/database"
	"github.com/ZanzyTHEbar/domainx/internal/monitoring"
	"github.com/ZanzyTHEbar/domainx/internal/orchestrator"
	"github.com/ZanzyTHEbar/domainx/internal/queue"
	"github.com/ZanzyTHEbar/domainx/internal/ranking"
	"github.com/ZanzyTHEbar/domainx/internal/ratelimit"
)

type testServer struct {
	router   *gin.Engine
	repo     *database.Repository
	domain   *database.Domain
	analysis *queue.MemoryQueue
	report   *queue.MemoryQueue
}

func newTestServer(t *testing.T, triggerLimit int, checks map[string]HealthCheck) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	db, err := database.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := database.NewRepository(db)

	domain := database.NewDomain("parsers", map[string]float64{"Quality": 1})
	require.NoError(t, repo.CreateDomain(ctx, domain))

	metrics := monitoring.NewMetrics()
	analysisQ := queue.NewMemoryQueue(16)
	reportQ := queue.NewMemoryQueue(16)
	router := queue.NewRouter(map[database.Track]queue.Queue{
		database.TrackAnalysis: analysisQ,
		database.TrackReport:   reportQ,
	}, metrics)

	orch := orchestrator.New(orchestrator.Dependencies{Store: repo, Dispatcher: router, Metrics: metrics})

	store := cache.NewCache(time.Minute)
	t.Cleanup(func() { _ = store.Close() })

	redisClient, err := ratelimit.NewRedisClient("", "", 0)
	require.NoError(t, err)

	engine := NewRouter(Config{
		Catalog:        repo,
		Trigger:        orch,
		Ranker:         ranking.NewEngine(repo, &ranking.ScoringConfig{Categories: []string{"Quality"}}, nil, metrics),
		Rankings:       ranking.NewRankingCache(store),
		Limiter:        ratelimit.NewRateLimiter(redisClient, nil, metrics),
		Metrics:        metrics,
		AllowedOrigins: []string{"http://localhost:5173"},
		TriggerRate:    ratelimit.PerMinute(triggerLimit),
		Checks:         checks,
		Stats:          map[string]func() map[string]any{"database": db.PoolStats},
	})

	return &testServer{router: engine, repo: repo, domain: domain, analysis: analysisQ, report: reportQ}
}

func (ts *testServer) library(t *testing.T, name, url string) *database.Library {
	t.Helper()
	lib := database.NewLibrary(ts.domain.ID, name, url)
	require.NoError(t, ts.repo.CreateLibrary(context.Background(), lib))
	return lib
}

func (ts *testServer) do(method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, nil)
	req.RemoteAddr = "10.0.0.1:1234"
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestTriggerLibraryTracks(t *testing.T) {
	ts := newTestServer(t, 100, nil)
	lib := ts.library(t, "goyacc", "https://github.com/acme/goyacc")

	tests := []struct {
		name  string
		path  string
		track string
		queue *queue.MemoryQueue
	}{
		{"analysis", "/api/libraries/" + lib.ID + "/analyze", "analysis", ts.analysis},
		{"report", "/api/libraries/" + lib.ID + "/report", "report", ts.report},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.queue.Len()
			w := ts.do(http.MethodPost, tt.path)

			assert.Equal(t, http.StatusAccepted, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.track, body["track"])
			assert.Equal(t, "pending", body["status"])
			assert.NotEmpty(t, body["task_id"])
			assert.Equal(t, before+1, tt.queue.Len())
		})
	}
}

func TestTriggerLibraryWithoutURL(t *testing.T) {
	ts := newTestServer(t, 100, nil)
	lib := ts.library(t, "ghost", "")

	w := ts.do(http.MethodPost, "/api/libraries/"+lib.ID+"/analyze")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, orchestrator.MsgMissingURL, decode(t, w)["error"])
	assert.Equal(t, 0, ts.analysis.Len())
}

func TestTriggerUnknownLibrary(t *testing.T) {
	ts := newTestServer(t, 100, nil)

	w := ts.do(http.MethodPost, "/api/libraries/missing/analyze")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode(t, w)["category"])
}

func TestRejectsMalformedIDs(t *testing.T) {
	ts := newTestServer(t, 100, nil)

	w := ts.do(http.MethodGet, "/api/libraries/a..b/status")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation", decode(t, w)["category"])
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestLibraryStatus(t *testing.T) {
	ts := newTestServer(t, 100, nil)
	lib := ts.library(t, "goyacc", "https://github.com/acme/goyacc")
	require.NoError(t, ts.repo.ResetTrack(context.Background(), lib.ID, database.TrackReport, "task-9"))
	require.NoError(t, ts.repo.MarkTrackRunning(context.Background(), lib.ID, database.TrackReport, "task-9", time.Now()))

	w := ts.do(http.MethodGet, "/api/libraries/"+lib.ID+"/status")
	require.Equal(t, http.StatusOK, w.Code)

	var status LibraryStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, database.StatusPending, status.Analysis.Status)
	assert.Equal(t, database.StatusRunning, status.Report.Status)
	assert.Equal(t, "task-9", status.Report.TaskID)
}

func TestTriggerDomain(t *testing.T) {
	ts := newTestServer(t, 100, nil)
	ts.library(t, "a", "https://github.com/acme/a")
	ts.library(t, "b", "")

	w := ts.do(http.MethodPost, "/api/domains/"+ts.domain.ID+"/analyze?track=report")
	require.Equal(t, http.StatusAccepted, w.Code)

	var result orchestrator.BatchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Queued)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, ts.report.Len())

	w = ts.do(http.MethodPost, "/api/domains/"+ts.domain.ID+"/analyze?track=lint")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodPost, "/api/domains/missing/analyze")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRankingEndpointsUseCache(t *testing.T) {
	ts := newTestServer(t, 100, nil)
	ctx := context.Background()
	a := ts.library(t, "A", "https://github.com/acme/a")
	b := ts.library(t, "B", "https://github.com/acme/b")

	stars := database.NewMetric("Stars", "Quality", "integer")
	require.NoError(t, ts.repo.CreateMetric(ctx, stars))
	require.NoError(t, ts.repo.UpsertMetricValues(ctx, a.ID, []database.MetricValue{{MetricID: stars.ID, Value: "10"}}))
	require.NoError(t, ts.repo.UpsertMetricValues(ctx, b.ID, []database.MetricValue{{MetricID: stars.ID, Value: "5"}}))

	path := "/api/domains/" + ts.domain.ID + "/ranking"

	w := ts.do(http.MethodGet, path)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))

	var result ranking.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, map[string]float64{"A": 0.6667, "B": 0.3333}, result.GlobalRanking)

	w = ts.do(http.MethodGet, path)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))

	w = ts.do(http.MethodPost, path)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))

	w = ts.do(http.MethodGet, "/api/domains/missing/ranking")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTriggerThrottle(t *testing.T) {
	ts := newTestServer(t, 2, nil)
	lib := ts.library(t, "goyacc", "https://github.com/acme/goyacc")
	path := "/api/libraries/" + lib.ID + "/analyze"

	for i := 0; i < 2; i++ {
		w := ts.do(http.MethodPost, path)
		require.Equal(t, http.StatusAccepted, w.Code)
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
	}

	w := ts.do(http.MethodPost, path)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// reads are not throttled
	w = ts.do(http.MethodGet, "/api/libraries/"+lib.ID+"/status")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, 100, map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
	})

	w := ts.do(http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body["stats"], "database")
	assert.Contains(t, body["stats"], "ranking_cache")

	degraded := newTestServer(t, 100, map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	w = degraded.do(http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", decode(t, w)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, 100, nil)
	ts.do(http.MethodGet, "/health")

	w := ts.do(http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, 100, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodOptions, "/api/libraries/x/analyze", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	ts.router.ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}
