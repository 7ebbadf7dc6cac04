// Package orchestrator drives the analysis and report tracks of libraries
// through their status state machine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/domainx/internal/database"
	apperrors "github.com/ZanzyTHEbar/domainx/internal/errors"
	"github.com/ZanzyTHEbar/domainx/internal/monitoring"
	"github.com/ZanzyTHEbar/domainx/internal/queue"
)

// Fixed user-facing messages stored on a failed track.
const (
	MsgMissingURL     = "Library URL is missing."
	MsgAnalysisFailed = "Repository analysis failed."
	MsgReportFailed   = "Report generation failed."

	evidencePrefix = "Auto-calculated via GitHub API on "
	terminalWrite  = 10 * time.Second
)

// ErrNothingQueued is returned when a trigger resolved to no task.
var ErrNothingQueued = errors.New("nothing queued")

// Store is the persistence surface used by the orchestrator.
type Store interface {
	GetLibrary(ctx context.Context, id string) (*database.Library, error)
	ListLibrariesByDomain(ctx context.Context, domainID string) ([]*database.Library, error)
	MetricsByName(ctx context.Context, names []string) (map[string]*database.Metric, error)
	UpsertMetricValues(ctx context.Context, libraryID string, values []database.MetricValue) error
	ResetTrack(ctx context.Context, libraryID string, track database.Track, taskID string) error
	MarkTrackRunning(ctx context.Context, libraryID string, track database.Track, taskID string, startedAt time.Time) error
	MarkTrackSucceeded(ctx context.Context, libraryID string, track database.Track, taskID string, finishedAt time.Time) error
	MarkTrackFailed(ctx context.Context, libraryID string, track database.Track, taskID, message string, finishedAt time.Time) error
	SetReportPath(ctx context.Context, libraryID, path string) error
}

// Dispatcher hands a task to whatever executes it.
type Dispatcher interface {
	Dispatch(ctx context.Context, task queue.Task) error
}

// MetricSource produces integer metrics for a repository URL.
type MetricSource interface {
	Name() string
	Collect(ctx context.Context, repoURL string) (map[string]int64, error)
}

// ReportBuilder builds and publishes a history report.
type ReportBuilder interface {
	Generate(ctx context.Context, repoURL, libraryID string) (string, error)
}

// RankingInvalidator drops cached rankings of a domain.
type RankingInvalidator interface {
	Invalidate(ctx context.Context, domainID string)
}

// Dependencies wires an Orchestrator. Sources run in order and their outputs are merged.
type Dependencies struct {
	Store      Store
	Dispatcher Dispatcher
	Sources    []MetricSource
	Reports    ReportBuilder
	Rankings   RankingInvalidator
	Logger     *monitoring.Logger
	Metrics    *monitoring.Metrics
}

// Orchestrator enqueues and executes track tasks
type Orchestrator struct {
	store      Store
	dispatcher Dispatcher
	sources    []MetricSource
	reports    ReportBuilder
	rankings   RankingInvalidator
	logger     *monitoring.Logger
	metrics    *monitoring.Metrics
	now        func() time.Time
}

// New creates an orchestrator
func New(deps Dependencies) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = monitoring.NewLoggerWithWriter(io.Discard, "error", "json")
	}
	return &Orchestrator{
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		sources:    deps.Sources,
		reports:    deps.Reports,
		rankings:   deps.Rankings,
		logger:     logger,
		metrics:    deps.Metrics,
		now:        time.Now,
	}
}

// EnqueueAnalysis queues the analysis track of a library and returns the task id
func (o *Orchestrator) EnqueueAnalysis(ctx context.Context, libraryID string) (string, error) {
	return o.enqueue(ctx, libraryID, database.TrackAnalysis)
}

// EnqueueReport queues the report track of a library and returns the task id
func (o *Orchestrator) EnqueueReport(ctx context.Context, libraryID string) (string, error) {
	return o.enqueue(ctx, libraryID, database.TrackReport)
}

// Enqueue queues one track of a library
func (o *Orchestrator) Enqueue(ctx context.Context, libraryID string, track database.Track) (string, error) {
	return o.enqueue(ctx, libraryID, track)
}

func (o *Orchestrator) enqueue(ctx context.Context, libraryID string, track database.Track) (string, error) {
	if !track.Valid() {
		return "", apperrors.NewValidationError("unknown track", string(track))
	}

	lib, err := o.store.GetLibrary(ctx, libraryID)
	if err != nil {
		return "", err
	}

	if lib.URL == "" {
		if err := o.store.ResetTrack(ctx, lib.ID, track, ""); err != nil {
			return "", err
		}
		o.metrics.RecordTransition(string(track), string(database.StatusPending))
		if err := o.store.MarkTrackFailed(ctx, lib.ID, track, "", MsgMissingURL, o.now()); err != nil {
			return "", err
		}
		o.metrics.RecordTransition(string(track), string(database.StatusFailed))
		o.logger.Warn("Library has no URL; nothing queued", "library_id", lib.ID, "track", track)
		return "", ErrNothingQueued
	}

	task := queue.Task{
		ID:         uuid.New().String(),
		LibraryID:  lib.ID,
		RepoURL:    lib.URL,
		Track:      track,
		EnqueuedAt: o.now().UTC(),
	}

	// the track belongs to this task from here on; older tasks become stale
	if err := o.store.ResetTrack(ctx, lib.ID, track, task.ID); err != nil {
		return "", err
	}
	o.metrics.RecordTransition(string(track), string(database.StatusPending))

	o.logger.Info("Track queued", "library_id", lib.ID, "track", track, "task_id", task.ID)
	if err := o.dispatcher.Dispatch(ctx, task); err != nil {
		return task.ID, fmt.Errorf("dispatch %s task %s: %w", track, task.ID, err)
	}
	return task.ID, nil
}

// HandleTask executes a task. It is the queue handler for both tracks.
func (o *Orchestrator) HandleTask(ctx context.Context, task queue.Task) error {
	switch task.Track {
	case database.TrackAnalysis:
		return o.RunAnalysis(ctx, task)
	case database.TrackReport:
		return o.RunReport(ctx, task)
	default:
		return apperrors.NewValidationError("unknown track", string(task.Track))
	}
}

// RunAnalysis collects metrics for the task's library and stores them
func (o *Orchestrator) RunAnalysis(ctx context.Context, task queue.Task) error {
	return o.run(ctx, task, database.TrackAnalysis, MsgAnalysisFailed, func(lib *database.Library) error {
		values, err := o.collect(ctx, task.RepoURL)
		if err != nil {
			return err
		}
		if err := o.owns(ctx, lib.ID, database.TrackAnalysis, task.ID); err != nil {
			return err
		}
		if err := o.persist(ctx, lib.ID, task.ID, values); err != nil {
			return err
		}
		o.rankingsChanged(ctx, lib.DomainID)
		return nil
	})
}

// RunReport builds the history report for the task's library
func (o *Orchestrator) RunReport(ctx context.Context, task queue.Task) error {
	return o.run(ctx, task, database.TrackReport, MsgReportFailed, func(lib *database.Library) error {
		if o.reports == nil {
			return apperrors.NewConfigurationError("report generation is not configured", nil)
		}
		path, err := o.reports.Generate(ctx, task.RepoURL, lib.ID)
		if err != nil {
			return err
		}
		if err := o.owns(ctx, lib.ID, database.TrackReport, task.ID); err != nil {
			return err
		}
		return o.store.SetReportPath(ctx, lib.ID, path)
	})
}

// run moves a track through running to a terminal status around work. Writes
// for a task that a later enqueue replaced are dropped.
func (o *Orchestrator) run(ctx context.Context, task queue.Task, track database.Track, failMsg string, work func(*database.Library) error) error {
	lib, err := o.store.GetLibrary(ctx, task.LibraryID)
	if err != nil {
		return err
	}

	start := o.now()
	if err := o.store.MarkTrackRunning(ctx, lib.ID, track, task.ID, start); err != nil {
		if errors.Is(err, database.ErrSuperseded) {
			o.superseded(lib.ID, track, task.ID, "running")
			return nil
		}
		return err
	}
	o.metrics.RecordTransition(string(track), string(database.StatusRunning))

	workErr := o.safely(lib, track, task.ID, work)
	if errors.Is(workErr, database.ErrSuperseded) {
		o.superseded(lib.ID, track, task.ID, "results")
		return nil
	}

	// terminal writes must land even when ctx expired during the work
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWrite)
	defer cancel()

	status := database.StatusSuccess
	if workErr == nil {
		if err := o.store.MarkTrackSucceeded(wctx, lib.ID, track, task.ID, o.now()); err != nil {
			if errors.Is(err, database.ErrSuperseded) {
				o.superseded(lib.ID, track, task.ID, "success")
				return nil
			}
			o.logger.Error("Failed to record track success", "library_id", lib.ID, "track", track, "error", err)
			workErr = err
		}
	}

	if workErr != nil {
		status = database.StatusFailed
		o.logger.Error("Track failed",
			"track", track,
			"library_id", lib.ID,
			"task_id", task.ID,
			"error_category", categoryOf(workErr),
			"error", workErr,
		)
		if err := o.store.MarkTrackFailed(wctx, lib.ID, track, task.ID, failMsg, o.now()); err != nil {
			if errors.Is(err, database.ErrSuperseded) {
				o.superseded(lib.ID, track, task.ID, "failure")
				return workErr
			}
			o.logger.Error("Failed to record track failure", "library_id", lib.ID, "track", track, "error", err)
		}
	}

	duration := o.now().Sub(start)
	o.metrics.RecordTransition(string(track), string(status))
	o.metrics.RecordTrackDuration(string(track), string(status), duration)
	o.logger.TrackLogger(string(track), lib.ID, task.ID, string(status), duration)

	return workErr
}

// safely runs work, turning a panic into an internal error.
func (o *Orchestrator) safely(lib *database.Library, track database.Track, taskID string, work func(*database.Library) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Track work panicked",
				"track", track,
				"library_id", lib.ID,
				"task_id", taskID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = apperrors.NewInternalError(fmt.Sprintf("%s track panicked", track), fmt.Errorf("%v", r))
		}
	}()
	return work(lib)
}

// owns reports ErrSuperseded when the track was re-enqueued under another task.
func (o *Orchestrator) owns(ctx context.Context, libraryID string, track database.Track, taskID string) error {
	lib, err := o.store.GetLibrary(ctx, libraryID)
	if err != nil {
		return err
	}
	if lib.State(track).TaskID != taskID {
		return database.ErrSuperseded
	}
	return nil
}

func (o *Orchestrator) superseded(libraryID string, track database.Track, taskID, write string) {
	o.metrics.IncrementSkippedValue("superseded_task")
	o.logger.Info("Task superseded by a newer enqueue; dropping write",
		"library_id", libraryID,
		"track", track,
		"task_id", taskID,
		"write", write,
	)
}

func (o *Orchestrator) collect(ctx context.Context, repoURL string) (map[string]int64, error) {
	merged := make(map[string]int64)
	for _, src := range o.sources {
		values, err := src.Collect(ctx, repoURL)
		if err != nil {
			return nil, apperrors.WrapError(err, "%s", src.Name())
		}
		for k, v := range values {
			merged[k] = v
		}
	}
	return merged, nil
}

// persist upserts collected values. Names missing from the catalog are skipped.
func (o *Orchestrator) persist(ctx context.Context, libraryID, taskID string, values map[string]int64) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	catalog, err := o.store.MetricsByName(ctx, names)
	if err != nil {
		return err
	}

	now := o.now().UTC()
	evidence := evidencePrefix + now.Format(time.RFC3339)
	rows := make([]database.MetricValue, 0, len(names))
	for _, name := range names {
		metric, ok := catalog[name]
		if !ok {
			o.metrics.IncrementSkippedValue("unknown_metric")
			o.logger.Debug("Metric not in catalog; skipping",
				"library_id", libraryID,
				"task_id", taskID,
				"metric_name", name,
			)
			continue
		}
		rows = append(rows, database.MetricValue{
			MetricID:    metric.ID,
			Value:       strconv.FormatInt(values[name], 10),
			Evidence:    evidence,
			CollectedAt: now,
		})
	}

	if err := o.store.UpsertMetricValues(ctx, libraryID, rows); err != nil {
		return err
	}
	o.logger.Info("Metric values stored", "library_id", libraryID, "task_id", taskID, "metrics", len(rows))
	return nil
}

func (o *Orchestrator) rankingsChanged(ctx context.Context, domainID string) {
	if o.rankings == nil || domainID == "" {
		return
	}
	o.rankings.Invalidate(ctx, domainID)
}

func categoryOf(err error) apperrors.ErrorCategory {
	if appErr := apperrors.ToAppError(err); appErr != nil {
		return appErr.Category
	}
	return apperrors.CategoryInternal
}
