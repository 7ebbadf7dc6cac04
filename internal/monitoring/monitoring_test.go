package monitoring

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestLoggerWritesJSONWithTimestamp(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "info", "json")

	logger.TrackLogger("analysis", "lib-1", "task-1", "success", 2*time.Second)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "Track finished", record["msg"])
	assert.Equal(t, "analysis", record["track"])
	assert.Contains(t, record, "timestamp")
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "warn", "json")

	logger.ExternalAPILogger("github", "GET", "/repos/a/b", 200, time.Millisecond, true)
	assert.Empty(t, buf.String())

	logger.ExternalAPILogger("github", "GET", "/repos/a/b", 500, time.Millisecond, false)
	assert.NotEmpty(t, buf.String())
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordTransition("analysis", "running")
	m.RecordTransition("analysis", "running")
	m.IncrementGitHubCalls("search", "ok")
	m.IncrementSkippedValue("unknown_metric")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.trackTransitions.WithLabelValues("analysis", "running")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.githubRequests.WithLabelValues("search", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.skippedValues.WithLabelValues("unknown_metric")))
}

func TestMetricsNilReceiver(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordTransition("analysis", "success")
		m.RecordTrackDuration("analysis", "success", time.Second)
		m.IncrementGitHubCalls("core", "error")
		m.RecordRanking("ok", time.Second)
		m.RecordRequest("GET", 200)
	})
	assert.Nil(t, m.Registry())
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.RecordRanking("ok", 10*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "domainx_ranking_runs_total")
}
