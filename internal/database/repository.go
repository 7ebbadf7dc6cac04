package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/ZanzyTHEbar/domainx/internal/errors"
)

const libraryColumns = `id, domain_id, name, url,
	analysis_status, analysis_task_id, analysis_error, analysis_started_at, analysis_finished_at,
	report_status, report_task_id, report_error, report_started_at, report_finished_at,
	report_path, ranking_results, created_at, updated_at`

const metricColumns = `id, name, category, description, weight, option_category, rule, value_type`

// Repository handles database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// CreateDomain inserts a domain
func (r *Repository) CreateDomain(ctx context.Context, d *Domain) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	weights, err := json.Marshal(nonNilWeights(d.CategoryWeights))
	if err != nil {
		return fmt.Errorf("failed to encode category weights: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO domains (id, name, description, category_weights, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, d.ID, d.Name, d.Description, string(weights), d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create domain: %w", err)
	}
	return nil
}

// GetDomain loads a domain
func (r *Repository) GetDomain(ctx context.Context, id string) (*Domain, error) {
	var (
		d        Domain
		weights  string
		matrices sql.NullString
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, description, category_weights, comparison_matrices, created_at, updated_at
		FROM domains WHERE id = ?
	`, id).Scan(&d.ID, &d.Name, &d.Description, &weights, &matrices, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("domain", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get domain: %w", err)
	}

	if err := json.Unmarshal([]byte(weights), &d.CategoryWeights); err != nil {
		return nil, apperrors.NewDataError("stored category weights are not valid JSON", err)
	}
	if matrices.Valid && matrices.String != "" {
		if err := json.Unmarshal([]byte(matrices.String), &d.ComparisonMatrices); err != nil {
			return nil, apperrors.NewDataError("stored comparison matrices are not valid JSON", err)
		}
	}

	return &d, nil
}

// SaveComparisonMatrices stores the audit trail of the last ranking run on the domain
func (r *Repository) SaveComparisonMatrices(ctx context.Context, domainID string, matrices any) error {
	data, err := json.Marshal(matrices)
	if err != nil {
		return fmt.Errorf("failed to encode comparison matrices: %w", err)
	}

	return r.execOne(ctx, "domain", domainID, `
		UPDATE domains SET comparison_matrices = ?, updated_at = ? WHERE id = ?
	`, string(data), time.Now().UTC(), domainID)
}

// CreateLibrary inserts a library with both tracks pending
func (r *Repository) CreateLibrary(ctx context.Context, l *Library) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	l.Analysis = TrackState{Status: StatusPending}
	l.Report = TrackState{Status: StatusPending}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO libraries (id, domain_id, name, url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, l.ID, l.DomainID, l.Name, l.URL, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create library: %w", err)
	}
	return nil
}

// GetLibrary loads a library
func (r *Repository) GetLibrary(ctx context.Context, id string) (*Library, error) {
	stmt, err := r.db.preparedStatement(stmtGetLibrary)
	if err != nil {
		return nil, err
	}

	lib, err := scanLibrary(stmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("library", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get library: %w", err)
	}
	return lib, nil
}

// ListLibrariesByDomain returns the libraries of a domain ordered by name
func (r *Repository) ListLibrariesByDomain(ctx context.Context, domainID string) ([]*Library, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+libraryColumns+` FROM libraries WHERE domain_id = ? ORDER BY name, id`, domainID)
	if err != nil {
		return nil, fmt.Errorf("failed to list libraries: %w", err)
	}
	defer apperrors.SafeClose(rows, "library rows")

	var libs []*Library
	for rows.Next() {
		lib, err := scanLibrary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan library: %w", err)
		}
		libs = append(libs, lib)
	}
	return libs, rows.Err()
}

// CreateMetric inserts a catalog metric
func (r *Repository) CreateMetric(ctx context.Context, m *Metric) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO metrics (`+metricColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Name, m.Category, m.Description, m.Weight, m.OptionCategory, m.Rule, m.ValueType)
	if err != nil {
		return fmt.Errorf("failed to create metric: %w", err)
	}
	return nil
}

// ListMetrics returns the whole metric catalog ordered by category and name
func (r *Repository) ListMetrics(ctx context.Context) ([]*Metric, error) {
	return r.queryMetrics(ctx, `SELECT `+metricColumns+` FROM metrics ORDER BY category, name`)
}

// MetricsByName returns the catalog entries whose names are in names
func (r *Repository) MetricsByName(ctx context.Context, names []string) (map[string]*Metric, error) {
	out := make(map[string]*Metric, len(names))
	if len(names) == 0 {
		return out, nil
	}

	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}

	metrics, err := r.queryMetrics(ctx,
		`SELECT `+metricColumns+` FROM metrics WHERE name IN (`+placeholders(len(names))+`)`, args...)
	if err != nil {
		return nil, err
	}
	for _, m := range metrics {
		out[m.Name] = m
	}
	return out, nil
}

func (r *Repository) queryMetrics(ctx context.Context, query string, args ...any) ([]*Metric, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer apperrors.SafeClose(rows, "metric rows")

	var metrics []*Metric
	for rows.Next() {
		var m Metric
		if err := rows.Scan(&m.ID, &m.Name, &m.Category, &m.Description, &m.Weight,
			&m.OptionCategory, &m.Rule, &m.ValueType); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		metrics = append(metrics, &m)
	}
	return metrics, rows.Err()
}

// ListMetricValues returns every stored value for the given libraries
func (r *Repository) ListMetricValues(ctx context.Context, libraryIDs []string) ([]MetricValue, error) {
	if len(libraryIDs) == 0 {
		return nil, nil
	}

	args := make([]any, len(libraryIDs))
	for i, id := range libraryIDs {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, library_id, metric_id, value, evidence, collected_at
		FROM library_metric_values WHERE library_id IN (`+placeholders(len(libraryIDs))+`)
		ORDER BY library_id, metric_id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query metric values: %w", err)
	}
	defer apperrors.SafeClose(rows, "metric value rows")

	var values []MetricValue
	for rows.Next() {
		var v MetricValue
		if err := rows.Scan(&v.ID, &v.LibraryID, &v.MetricID, &v.Value, &v.Evidence, &v.CollectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan metric value: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// UpsertMetricValues writes values for one library in a single transaction.
// Each (library, metric) pair keeps exactly one row.
func (r *Repository) UpsertMetricValues(ctx context.Context, libraryID string, values []MetricValue) error {
	if len(values) == 0 {
		return nil
	}

	stmt, err := r.db.preparedStatement(stmtUpsertMetricValue)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	txStmt := tx.StmtContext(ctx, stmt)
	now := time.Now().UTC()

	for _, v := range values {
		if v.ID == "" {
			v.ID = uuid.New().String()
		}
		if v.CollectedAt.IsZero() {
			v.CollectedAt = now
		}
		if _, err := txStmt.ExecContext(ctx, v.ID, libraryID, v.MetricID, v.Value, v.Evidence, v.CollectedAt); err != nil {
			return fmt.Errorf("failed to upsert metric value %s: %w", v.MetricID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit metric values: %w", err)
	}
	return nil
}

// ResetTrack puts a track back to pending for taskID, clearing error and
// timestamps. An empty taskID leaves the track without a task.
func (r *Repository) ResetTrack(ctx context.Context, libraryID string, track Track, taskID string) error {
	p, err := trackPrefix(track)
	if err != nil {
		return err
	}

	return r.execOne(ctx, "library", libraryID, fmt.Sprintf(`
		UPDATE libraries SET %[1]s_status = ?, %[1]s_task_id = ?, %[1]s_error = NULL,
			%[1]s_started_at = NULL, %[1]s_finished_at = NULL, updated_at = ?
		WHERE id = ?`, p), string(StatusPending), nullable(taskID), time.Now().UTC(), libraryID)
}

// MarkTrackRunning records the start of taskID on a track and clears any previous error.
// It returns ErrSuperseded when the track no longer belongs to taskID.
func (r *Repository) MarkTrackRunning(ctx context.Context, libraryID string, track Track, taskID string, startedAt time.Time) error {
	p, err := trackPrefix(track)
	if err != nil {
		return err
	}

	return r.execTask(ctx, libraryID, fmt.Sprintf(`
		UPDATE libraries SET %[1]s_status = ?, %[1]s_error = NULL,
			%[1]s_started_at = ?, %[1]s_finished_at = NULL, updated_at = ?
		WHERE id = ? AND %[1]s_task_id IS ?`, p),
		string(StatusRunning), startedAt.UTC(), time.Now().UTC(), libraryID, nullable(taskID))
}

// MarkTrackSucceeded records successful completion of taskID.
// It returns ErrSuperseded when the track no longer belongs to taskID.
func (r *Repository) MarkTrackSucceeded(ctx context.Context, libraryID string, track Track, taskID string, finishedAt time.Time) error {
	p, err := trackPrefix(track)
	if err != nil {
		return err
	}

	return r.execTask(ctx, libraryID, fmt.Sprintf(`
		UPDATE libraries SET %[1]s_status = ?, %[1]s_error = NULL, %[1]s_finished_at = ?, updated_at = ?
		WHERE id = ? AND %[1]s_task_id IS ?`, p),
		string(StatusSuccess), finishedAt.UTC(), time.Now().UTC(), libraryID, nullable(taskID))
}

// MarkTrackFailed records a failure message for taskID. An empty taskID
// targets a track that was reset without a task.
// It returns ErrSuperseded when the track no longer belongs to taskID.
func (r *Repository) MarkTrackFailed(ctx context.Context, libraryID string, track Track, taskID, message string, finishedAt time.Time) error {
	p, err := trackPrefix(track)
	if err != nil {
		return err
	}

	return r.execTask(ctx, libraryID, fmt.Sprintf(`
		UPDATE libraries SET %[1]s_status = ?, %[1]s_error = ?, %[1]s_finished_at = ?, updated_at = ?
		WHERE id = ? AND %[1]s_task_id IS ?`, p),
		string(StatusFailed), message, finishedAt.UTC(), time.Now().UTC(), libraryID, nullable(taskID))
}

// SetReportPath stores the public location of a library's report
func (r *Repository) SetReportPath(ctx context.Context, libraryID, path string) error {
	return r.execOne(ctx, "library", libraryID,
		`UPDATE libraries SET report_path = ?, updated_at = ? WHERE id = ?`,
		path, time.Now().UTC(), libraryID)
}

// SaveRankingResult writes only the ranking result of a library
func (r *Repository) SaveRankingResult(ctx context.Context, libraryID string, result RankingResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode ranking result: %w", err)
	}

	return r.execOne(ctx, "library", libraryID,
		`UPDATE libraries SET ranking_results = ?, updated_at = ? WHERE id = ?`,
		string(data), time.Now().UTC(), libraryID)
}

// execTask runs a task-scoped track update. No matched row means either the
// library is gone or another task owns the track.
func (r *Repository) execTask(ctx context.Context, libraryID, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update library: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update library: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM libraries WHERE id = ?`, libraryID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewNotFoundError("library", libraryID)
	}
	if err != nil {
		return fmt.Errorf("failed to look up library: %w", err)
	}
	return ErrSuperseded
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// execOne runs an update that must touch exactly one row.
func (r *Repository) execOne(ctx context.Context, entity, id, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", entity, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", entity, err)
	}
	if n == 0 {
		return apperrors.NewNotFoundError(entity, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLibrary(row rowScanner) (*Library, error) {
	var (
		l                                       Library
		aStatus, rStatus                        string
		aTask, aErr, rTask, rErr, path, ranking sql.NullString
		aStart, aEnd, rStart, rEnd              sql.NullTime
	)

	err := row.Scan(&l.ID, &l.DomainID, &l.Name, &l.URL,
		&aStatus, &aTask, &aErr, &aStart, &aEnd,
		&rStatus, &rTask, &rErr, &rStart, &rEnd,
		&path, &ranking, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}

	l.Analysis = TrackState{
		Status:     TrackStatus(aStatus),
		TaskID:     aTask.String,
		Error:      aErr.String,
		StartedAt:  timePtr(aStart),
		FinishedAt: timePtr(aEnd),
	}
	l.Report = TrackState{
		Status:     TrackStatus(rStatus),
		TaskID:     rTask.String,
		Error:      rErr.String,
		StartedAt:  timePtr(rStart),
		FinishedAt: timePtr(rEnd),
	}
	l.ReportPath = path.String

	if ranking.Valid && ranking.String != "" {
		var rr RankingResult
		if err := json.Unmarshal([]byte(ranking.String), &rr); err != nil {
			return nil, apperrors.NewDataError("stored ranking result is not valid JSON", err)
		}
		l.RankingResults = &rr
	}

	return &l, nil
}

func trackPrefix(track Track) (string, error) {
	if !track.Valid() {
		return "", apperrors.NewValidationError("unknown track", string(track))
	}
	return string(track), nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nonNilWeights(w map[string]float64) map[string]float64 {
	if w == nil {
		return map[string]float64{}
	}
	return w
}
