// Package api exposes the trigger, status and ranking surface over HTTP.
package api

import (
	"context"
	"io"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ZanzyTHEbar/domainx/internal/database"
	"github.com/ZanzyTHEbar/domainx/internal/errors"
	"github.com/ZanzyTHEbar/domainx/internal/monitoring"
	"github.com/ZanzyTHEbar/domainx/internal/orchestrator"
	"github.com/ZanzyTHEbar/domainx/internal/ranking"
	"github.com/ZanzyTHEbar/domainx/internal/ratelimit"
	"github.com/ZanzyTHEbar/domainx/internal/security"
)

// Catalog is the read surface the handlers need.
type Catalog interface {
	GetDomain(ctx context.Context, id string) (*database.Domain, error)
	GetLibrary(ctx context.Context, id string) (*database.Library, error)
}

// Trigger enqueues track tasks.
type Trigger interface {
	Enqueue(ctx context.Context, libraryID string, track database.Track) (string, error)
	EnqueueDomain(ctx context.Context, domainID string, track database.Track) (*orchestrator.BatchResult, error)
}

// HealthCheck checks one dependency.
type HealthCheck func(ctx context.Context) error

// Config wires the router.
type Config struct {
	Catalog  Catalog
	Trigger  Trigger
	Ranker   ranking.Ranker
	Rankings *ranking.RankingCache
	Limiter  *ratelimit.RateLimiter
	Metrics  *monitoring.Metrics
	Logger   *monitoring.Logger

	AllowedOrigins  []string
	TriggerRate     ratelimit.Rate
	EnableProfiling bool

	Checks map[string]HealthCheck
	Stats  map[string]func() map[string]any
}

// Server holds handler dependencies
type Server struct {
	cfg Config
}

// NewRouter builds the gin engine with middleware and routes
func NewRouter(cfg Config) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = monitoring.NewLoggerWithWriter(io.Discard, "error", "json")
	}
	s := &Server{cfg: cfg}

	r := gin.New()
	r.Use(monitoring.MonitoringMiddleware(cfg.Metrics, cfg.Logger))
	r.Use(errors.ErrorHandler())
	r.Use(errors.RecoveryHandler())
	r.Use(security.Headers())
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After", "X-Cache"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/health", s.health)
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	throttle := func(c *gin.Context) { c.Next() }
	if cfg.Limiter != nil && cfg.TriggerRate.Limit > 0 {
		throttle = cfg.Limiter.IPThrottle("trigger", cfg.TriggerRate)
	}

	api := r.Group("/api")
	api.Use(security.ValidateParams("id"))
	{
		api.POST("/libraries/:id/analyze", throttle, s.triggerLibrary(database.TrackAnalysis))
		api.POST("/libraries/:id/report", throttle, s.triggerLibrary(database.TrackReport))
		api.GET("/libraries/:id/status", s.libraryStatus)

		api.POST("/domains/:id/analyze", throttle, s.triggerDomain)
		api.GET("/domains/:id/ranking", s.getRanking)
		api.POST("/domains/:id/ranking", throttle, s.recomputeRanking)
	}

	if cfg.EnableProfiling {
		r.GET("/debug/pprof/*name", profiler)
	}

	return r
}

// profiler routes pprof endpoints under one catch-all path.
func profiler(c *gin.Context) {
	switch c.Param("name") {
	case "/cmdline":
		pprof.Cmdline(c.Writer, c.Request)
	case "/profile":
		pprof.Profile(c.Writer, c.Request)
	case "/symbol":
		pprof.Symbol(c.Writer, c.Request)
	case "/trace":
		pprof.Trace(c.Writer, c.Request)
	default:
		pprof.Index(c.Writer, c.Request)
	}
}
