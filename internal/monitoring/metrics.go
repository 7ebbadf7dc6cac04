package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "domainx"

// Metrics holds the service's Prometheus collectors on a private registry.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	trackTransitions *prometheus.CounterVec
	trackDuration    *prometheus.HistogramVec
	githubRequests   *prometheus.CounterVec
	skippedValues    *prometheus.CounterVec
	rankingRuns      *prometheus.CounterVec
	rankingDuration  prometheus.Histogram
	httpRequests     *prometheus.CounterVec
	rateLimitEvents  *prometheus.CounterVec
	queueTasks       *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		trackTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "track_transitions_total",
			Help:      "Status transitions per track.",
		}, []string{"track", "status"}),
		trackDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "track_duration_seconds",
			Help:      "Wall time from running to a terminal status.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 4 * 3600, 8 * 3600},
		}, []string{"track", "status"}),
		githubRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "github_requests_total",
			Help:      "Requests sent to the source-hosting API.",
		}, []string{"class", "outcome"}),
		skippedValues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_metric_values_total",
			Help:      "Collected values not persisted.",
		}, []string{"reason"}),
		rankingRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ranking_runs_total",
			Help:      "Ranking engine runs.",
		}, []string{"outcome"}),
		rankingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ranking_duration_seconds",
			Help:      "Ranking engine run time.",
			Buckets:   prometheus.DefBuckets,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		}, []string{"method", "status"}),
		rateLimitEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_events_total",
			Help:      "Rate limiter decisions by scope and event.",
		}, []string{"scope", "event"}),
		queueTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_tasks_total",
			Help:      "Tasks published and consumed per track.",
		}, []string{"track", "event"}),
	}

	m.registry.MustRegister(
		m.trackTransitions,
		m.trackDuration,
		m.githubRequests,
		m.skippedValues,
		m.rankingRuns,
		m.rankingDuration,
		m.httpRequests,
		m.rateLimitEvents,
		m.queueTasks,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the underlying registry, mostly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the /metrics scrape endpoint
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTransition counts a status transition on a track
func (m *Metrics) RecordTransition(track, status string) {
	if m == nil {
		return
	}
	m.trackTransitions.WithLabelValues(track, status).Inc()
}

// RecordTrackDuration records the time a track spent running
func (m *Metrics) RecordTrackDuration(track, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.trackDuration.WithLabelValues(track, status).Observe(d.Seconds())
}

// IncrementGitHubCalls counts a source-hosting API request
func (m *Metrics) IncrementGitHubCalls(class, outcome string) {
	if m == nil {
		return
	}
	m.githubRequests.WithLabelValues(class, outcome).Inc()
}

// IncrementSkippedValue counts a collected value dropped during persistence
func (m *Metrics) IncrementSkippedValue(reason string) {
	if m == nil {
		return
	}
	m.skippedValues.WithLabelValues(reason).Inc()
}

// RecordRanking records one ranking engine run
func (m *Metrics) RecordRanking(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.rankingRuns.WithLabelValues(outcome).Inc()
	m.rankingDuration.Observe(d.Seconds())
}

// RecordRequest counts a served HTTP request
func (m *Metrics) RecordRequest(method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, statusClass(status)).Inc()
}

// IncrementRateLimit counts a limiter event such as "blocked", "fallback" or "redis_error"
func (m *Metrics) IncrementRateLimit(scope, event string) {
	if m == nil {
		return
	}
	m.rateLimitEvents.WithLabelValues(scope, event).Inc()
}

// IncrementQueueTask counts a queue event for a track
func (m *Metrics) IncrementQueueTask(track, event string) {
	if m == nil {
		return
	}
	m.queueTasks.WithLabelValues(track, event).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
