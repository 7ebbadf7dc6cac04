// Package staticanalysis clones repositories and runs local tools against the checkout.
package staticanalysis

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	apperrors "github.com/ZanzyTHEbar/domainx/internal/errors"
)

// RunnerConfig configures clone and line counting.
type RunnerConfig struct {
	GitCommand   string
	LOCCommand   []string
	ScratchDir   string
	CloneTimeout time.Duration
}

// Runner produces line-count metrics from a fresh shallow clone
type Runner struct {
	cfg RunnerConfig
}

// NewRunner creates a runner, filling unset fields with defaults
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.GitCommand == "" {
		cfg.GitCommand = "git"
	}
	if len(cfg.LOCCommand) == 0 {
		cfg.LOCCommand = []string{"scc", "--format", "json"}
	}
	if cfg.CloneTimeout <= 0 {
		cfg.CloneTimeout = 30 * time.Minute
	}
	return &Runner{cfg: cfg}
}

// Name identifies the runner in logs and errors
func (r *Runner) Name() string { return "static analysis" }

// Collect implements the metric source contract by running RunStaticAnalysis
func (r *Runner) Collect(ctx context.Context, repoURL string) (map[string]int64, error) {
	return r.RunStaticAnalysis(ctx, repoURL)
}

// RunStaticAnalysis clones repoURL into a scratch directory, counts lines and removes the
// directory on every exit path.
func (r *Runner) RunStaticAnalysis(ctx context.Context, repoURL string) (map[string]int64, error) {
	start := time.Now()

	dir, err := os.MkdirTemp(r.cfg.ScratchDir, "domainx-clone-*")
	if err != nil {
		return nil, apperrors.NewInternalError("failed to create scratch directory", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("Failed to remove scratch directory", "dir", dir, "error", err)
		}
	}()

	cloneArgs := []string{r.cfg.GitCommand, "clone", "--depth", "1", "--no-tags", repoURL, dir}
	res, err := runCommand(ctx, r.cfg.CloneTimeout, "", cloneArgs)
	if err != nil {
		if res.TimedOut {
			return nil, apperrors.NewTimeoutError("git clone timed out", r.cfg.CloneTimeout, err)
		}
		return nil, apperrors.NewCloneError(fmt.Sprintf("git clone failed for %s", repoURL), res.StderrTail, err)
	}

	locArgs := append(append([]string{}, r.cfg.LOCCommand...), dir)
	res, err = runCommand(ctx, r.cfg.CloneTimeout, "", locArgs)
	if err != nil {
		if res.TimedOut {
			return nil, apperrors.NewTimeoutError("line counter timed out", r.cfg.CloneTimeout, err)
		}
		return nil, apperrors.NewToolError(r.cfg.LOCCommand[0], res.StderrTail, err)
	}

	counts, err := ParseLineCounts(res.Stdout)
	if err != nil {
		return nil, err
	}

	slog.Info("Static analysis finished",
		"repo", repoURL,
		"files", humanize.Comma(counts.Files),
		"lines", humanize.Comma(counts.Lines),
		"duration_ms", time.Since(start).Milliseconds())

	return counts.Metrics(), nil
}
