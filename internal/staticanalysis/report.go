package staticanalysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	apperrors "github.com/ZanzyTHEbar/domainx/internal/errors"
)

const (
	dirMode  fs.FileMode = 0o755
	fileMode fs.FileMode = 0o644
)

// ReportConfig configures report generation.
type ReportConfig struct {
	GitCommand   string
	Command      []string
	OutputDir    string
	IndexFile    string
	WorkDir      string
	PublicDir    string
	CloneTimeout time.Duration
	ToolTimeout  time.Duration
}

// ReportGenerator builds a browsable history report for a repository
type ReportGenerator struct {
	cfg ReportConfig
}

// NewReportGenerator creates a generator, filling unset fields with defaults
func NewReportGenerator(cfg ReportConfig) *ReportGenerator {
	if cfg.GitCommand == "" {
		cfg.GitCommand = "git"
	}
	if len(cfg.Command) == 0 {
		cfg.Command = []string{"gitstats", ".", "gitstats_report"}
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "gitstats_report"
	}
	if cfg.IndexFile == "" {
		cfg.IndexFile = "index.html"
	}
	if cfg.CloneTimeout <= 0 {
		cfg.CloneTimeout = 30 * time.Minute
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 6 * time.Hour
	}
	return &ReportGenerator{cfg: cfg}
}

// Generate clones repoURL, runs the report tool and publishes its output under
// PublicDir/<libraryID>. It returns the published directory.
func (g *ReportGenerator) Generate(ctx context.Context, repoURL, libraryID string) (string, error) {
	start := time.Now()
	cloneDir := filepath.Join(g.cfg.WorkDir, libraryID)
	publicDir := filepath.Join(g.cfg.PublicDir, libraryID)

	if err := os.RemoveAll(cloneDir); err != nil {
		return "", apperrors.NewInternalError("failed to clear report work directory", err)
	}
	if err := os.MkdirAll(g.cfg.WorkDir, dirMode); err != nil {
		return "", apperrors.NewInternalError("failed to create report work directory", err)
	}
	defer func() {
		if err := os.RemoveAll(cloneDir); err != nil {
			slog.Warn("Failed to remove report clone", "dir", cloneDir, "error", err)
		}
	}()

	res, err := runCommand(ctx, g.cfg.CloneTimeout, "", []string{g.cfg.GitCommand, "clone", repoURL, cloneDir})
	if err != nil {
		if res.TimedOut {
			return "", apperrors.NewTimeoutError("git clone timed out", g.cfg.CloneTimeout, err)
		}
		return "", apperrors.NewCloneError(fmt.Sprintf("git clone failed for %s", repoURL), res.StderrTail, err)
	}

	res, err = runCommand(ctx, g.cfg.ToolTimeout, cloneDir, g.cfg.Command)
	if err != nil {
		if res.TimedOut {
			return "", apperrors.NewTimeoutError("report tool timed out", g.cfg.ToolTimeout, err)
		}
		return "", apperrors.NewToolError(g.cfg.Command[0], res.StderrTail, err)
	}

	outputDir := filepath.Join(cloneDir, g.cfg.OutputDir)
	if _, err := os.Stat(outputDir); err != nil {
		return "", apperrors.NewToolError(g.cfg.Command[0], "report output directory missing", err)
	}

	size, err := g.swapIn(outputDir, publicDir, libraryID)
	if err != nil {
		return "", err
	}

	slog.Info("Report published",
		"library_id", libraryID,
		"path", publicDir,
		"size", humanize.Bytes(uint64(size)),
		"duration_ms", time.Since(start).Milliseconds())

	return publicDir, nil
}

// swapIn publishes outputDir into a staging directory next to publicDir and
// renames it into place. The previous report stays served until the new one
// is complete and has its index file.
func (g *ReportGenerator) swapIn(outputDir, publicDir, libraryID string) (int64, error) {
	if err := os.MkdirAll(g.cfg.PublicDir, dirMode); err != nil {
		return 0, apperrors.NewInternalError("failed to create public report directory", err)
	}

	staging, err := os.MkdirTemp(g.cfg.PublicDir, "."+libraryID+"-staging-")
	if err != nil {
		return 0, apperrors.NewInternalError("failed to create report staging directory", err)
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			slog.Warn("Failed to remove report staging directory", "dir", staging, "error", err)
		}
	}()

	size, err := publish(outputDir, staging)
	if err != nil {
		return 0, apperrors.NewInternalError("failed to publish report", err)
	}

	if _, err := os.Stat(filepath.Join(staging, g.cfg.IndexFile)); err != nil {
		return 0, apperrors.NewToolError(g.cfg.Command[0], fmt.Sprintf("%s not found in report output", g.cfg.IndexFile), err)
	}

	previous := staging + ".previous"
	hadPrevious := true
	if err := os.Rename(publicDir, previous); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return 0, apperrors.NewInternalError("failed to move previous report aside", err)
		}
		hadPrevious = false
	}

	if err := os.Rename(staging, publicDir); err != nil {
		if hadPrevious {
			if restoreErr := os.Rename(previous, publicDir); restoreErr != nil {
				slog.Error("Failed to restore previous report", "dir", publicDir, "error", restoreErr)
			}
		}
		return 0, apperrors.NewInternalError("failed to move report into place", err)
	}

	if hadPrevious {
		if err := os.RemoveAll(previous); err != nil {
			slog.Warn("Failed to remove previous report", "dir", previous, "error", err)
		}
	}
	return size, nil
}

// publish copies src into dst with normalized permissions and returns the bytes copied.
func publish(src, dst string) (int64, error) {
	var total int64

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			if err := os.MkdirAll(target, dirMode); err != nil {
				return err
			}
			return os.Chmod(target, dirMode)
		case d.Type().IsRegular():
			n, err := copyFile(path, target)
			total += n
			return err
		default:
			// symlinks and other special files are not served
			return nil
		}
	})

	return total, err
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer apperrors.SafeClose(in, src)

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fileMode)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, err
	}
	return n, os.Chmod(dst, fileMode)
}
