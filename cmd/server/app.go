package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ZanzyTHEbar/domainx/internal/api"
	"github.com/ZanzyTHEbar/domainx/internal/cache"
	"github.com/ZanzyTHEbar/domainx/internal/config"
	"github.com/ZanzyTHEbar/domainx/internal/credentials"
	"github.com/ZanzyTHEbar/domainx/internal/database"
	"github.com/ZanzyTHEbar/domainx/internal/errors"
	"github.com/ZanzyTHEbar/domainx/internal/github"
	"github.com/ZanzyTHEbar/domainx/internal/monitoring"
	"github.com/ZanzyTHEbar/domainx/internal/orchestrator"
	"github.com/ZanzyTHEbar/domainx/internal/queue"
	"github.com/ZanzyTHEbar/domainx/internal/ranking"
	"github.com/ZanzyTHEbar/domainx/internal/ratelimit"
	"github.com/ZanzyTHEbar/domainx/internal/resilience"
	"github.com/ZanzyTHEbar/domainx/internal/staticanalysis"
)

// app holds the wired components shared by every command.
type app struct {
	cfg     *config.Config
	logger  *monitoring.Logger
	metrics *monitoring.Metrics

	db      *database.DB
	repo    *database.Repository
	redis   *ratelimit.RedisClient
	limiter *ratelimit.RateLimiter

	engine   *ranking.Engine
	rankings *ranking.RankingCache
	store    cache.Store

	orch *orchestrator.Orchestrator
}

// newApp loads configuration and wires every component. dispatcher decides
// where enqueued tasks go; nil means tasks run inline in the caller.
func newApp(configPath string, dispatcher func(*app) (orchestrator.Dispatcher, error)) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := monitoring.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger.Logger)

	a := &app{cfg: cfg, logger: logger, metrics: monitoring.NewMetrics()}

	a.db, err = database.NewDB(cfg.Database.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.repo = database.NewRepository(a.db)

	a.redis, err = ratelimit.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	a.limiter = ratelimit.NewRateLimiter(a.redis, map[string]ratelimit.Rate{
		ratelimit.ClassCore:   ratelimit.PerMinute(cfg.GitHub.CorePerMinute),
		ratelimit.ClassSearch: ratelimit.PerMinute(cfg.GitHub.SearchPerMinute),
	}, a.metrics)

	scoring, err := ranking.LoadScoringConfig(cfg.Scoring.CategoriesPath, cfg.Scoring.RulesPath)
	if err != nil {
		a.close()
		return nil, err
	}
	a.engine = ranking.NewEngine(a.repo, scoring, logger, a.metrics)

	if a.redis.IsEnabled() {
		a.store = cache.NewRedisCache(a.redis.Client(), cfg.Server.RankingCacheTTL)
	} else {
		a.store = cache.NewCache(cfg.Server.RankingCacheTTL)
	}
	a.rankings = ranking.NewRankingCache(a.store)

	httpClient := resilience.NewHTTPClient(cfg.GitHub.RequestTimeout)
	provider := credentials.NewProvider(credentials.Config{
		APIURL:         cfg.GitHub.APIURL,
		AppID:          cfg.GitHub.AppID,
		PrivateKeyPath: cfg.GitHub.PrivateKeyPath,
		InstallationID: cfg.GitHub.InstallationID,
		Token:          cfg.GitHub.Token,
	}, credentials.NewTokenCache(), httpClient)

	client := github.NewClient(cfg.GitHub.APIURL, provider,
		github.WithHTTPClient(httpClient),
		github.WithThrottle(a.limiter),
		github.WithBreaker(resilience.NewCircuitBreaker("github-api", resilience.CircuitBreakerConfig{})),
		github.WithMetrics(a.metrics),
		github.WithLogger(logger),
	)

	runner := staticanalysis.NewRunner(staticanalysis.RunnerConfig{
		GitCommand:   cfg.Analysis.GitCommand,
		LOCCommand:   cfg.Analysis.LOCCommand,
		ScratchDir:   cfg.Analysis.ScratchDir,
		CloneTimeout: cfg.Analysis.CloneTimeout,
	})
	reports := staticanalysis.NewReportGenerator(staticanalysis.ReportConfig{
		GitCommand:   cfg.Analysis.GitCommand,
		Command:      cfg.Report.Command,
		OutputDir:    cfg.Report.OutputDir,
		IndexFile:    cfg.Report.IndexFile,
		WorkDir:      cfg.Report.WorkDir,
		PublicDir:    cfg.Report.PublicDir,
		CloneTimeout: cfg.Analysis.CloneTimeout,
		ToolTimeout:  cfg.Report.ToolTimeout,
	})

	var d orchestrator.Dispatcher
	inline := queue.NewInline()
	if dispatcher != nil {
		if d, err = dispatcher(a); err != nil {
			a.close()
			return nil, err
		}
	} else {
		d = inline
	}

	a.orch = orchestrator.New(orchestrator.Dependencies{
		Store:      a.repo,
		Dispatcher: d,
		Sources:    []orchestrator.MetricSource{github.NewCollector(client), runner},
		Reports:    reports,
		Rankings:   a.rankings,
		Logger:     logger,
		Metrics:    a.metrics,
	})
	inline.Bind(a.orch.HandleTask)

	return a, nil
}

// queues builds one queue per track on the configured backend.
func (a *app) queues() (map[database.Track]queue.Queue, error) {
	switch a.cfg.Queue.Backend {
	case config.QueueRedis:
		if !a.redis.IsEnabled() {
			return nil, errors.NewConfigurationError("queue backend redis requires redis.addr", nil)
		}
		return map[database.Track]queue.Queue{
			database.TrackAnalysis: queue.NewRedisQueue(a.redis.Client(), string(database.TrackAnalysis)),
			database.TrackReport:   queue.NewRedisQueue(a.redis.Client(), string(database.TrackReport)),
		}, nil
	default:
		return map[database.Track]queue.Queue{
			database.TrackAnalysis: queue.NewMemoryQueue(a.cfg.Queue.Capacity),
			database.TrackReport:   queue.NewMemoryQueue(a.cfg.Queue.Capacity),
		}, nil
	}
}

// startPools launches the worker pools of both tracks on queues.
func (a *app) startPools(ctx context.Context, queues map[database.Track]queue.Queue) []*queue.Pool {
	pools := []*queue.Pool{
		queue.NewPool(string(database.TrackAnalysis), queues[database.TrackAnalysis],
			a.cfg.Analysis.Workers, a.cfg.Analysis.TaskTimeout, a.orch.HandleTask, a.metrics),
		queue.NewPool(string(database.TrackReport), queues[database.TrackReport],
			a.cfg.Report.Workers, a.cfg.Report.TaskTimeout, a.orch.HandleTask, a.metrics),
	}
	for _, p := range pools {
		p.Start(ctx)
	}
	return pools
}

func (a *app) healthChecks() map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{
		"database": func(ctx context.Context) error { return a.db.PingContext(ctx) },
	}
	if a.redis.IsEnabled() {
		checks["redis"] = a.redis.HealthCheck
	}
	return checks
}

func (a *app) close() {
	if closer, ok := a.store.(interface{ Close() error }); ok {
		errors.SafeClose(closer, "ranking cache")
	}
	if a.redis != nil {
		errors.SafeClose(a.redis, "redis")
	}
	if a.db != nil {
		errors.SafeClose(a.db, "database")
	}
}

func waitPools(pools []*queue.Pool, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		for _, p := range pools {
			p.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("Worker pools did not stop before the shutdown timeout", "timeout", timeout)
	}
}
