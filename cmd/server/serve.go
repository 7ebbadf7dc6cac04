package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/domainx/internal/api"
	"github.com/ZanzyTHEbar/domainx/internal/config"
	"github.com/ZanzyTHEbar/domainx/internal/database"
	apperrors "github.com/ZanzyTHEbar/domainx/internal/errors"
	"github.com/ZanzyTHEbar/domainx/internal/orchestrator"
	"github.com/ZanzyTHEbar/domainx/internal/queue"
	"github.com/ZanzyTHEbar/domainx/internal/ratelimit"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with in-process worker pools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(parent context.Context, configPath string) error {
	var queues map[database.Track]queue.Queue

	a, err := newApp(configPath, func(a *app) (orchestrator.Dispatcher, error) {
		var err error
		if queues, err = a.queues(); err != nil {
			return nil, err
		}
		return queue.NewRouter(queues, a.metrics), nil
	})
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workers, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	pools := a.startPools(workers, queues)

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.Config{
		Catalog:         a.repo,
		Trigger:         a.orch,
		Ranker:          a.engine,
		Rankings:        a.rankings,
		Limiter:         a.limiter,
		Metrics:         a.metrics,
		Logger:          a.logger,
		AllowedOrigins:  a.cfg.Server.AllowedOrigins,
		TriggerRate:     ratelimit.PerMinute(a.cfg.Server.TriggerPerMin),
		EnableProfiling: a.cfg.Server.EnableProfiling,
		Checks:          a.healthChecks(),
		Stats: map[string]func() map[string]any{
			"database":     a.db.PoolStats,
			"redis":        a.redis.PoolStats,
			"rate_limiter": a.limiter.Stats,
		},
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "addr", srv.Addr, "queue_backend", a.cfg.Queue.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			cancelWorkers()
			return fmt.Errorf("server failed to start: %w", err)
		}
	}
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	cancelWorkers()
	waitPools(pools, a.cfg.Server.ShutdownTimeout)

	slog.Info("Server exited")
	return nil
}

func newWorkerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume analysis and report tasks from the Redis queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context(), *configPath)
		},
	}
}

func runWorker(parent context.Context, configPath string) error {
	a, err := newApp(configPath, nil)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.Queue.Backend != config.QueueRedis {
		return apperrors.NewConfigurationError("worker mode requires queue.backend=redis", nil)
	}

	queues, err := a.queues()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pools := a.startPools(ctx, queues)
	slog.Info("Workers running", "analysis_workers", a.cfg.Analysis.Workers, "report_workers", a.cfg.Report.Workers)

	<-ctx.Done()
	slog.Info("Stopping workers...")
	waitPools(pools, a.cfg.Server.ShutdownTimeout)
	return nil
}
