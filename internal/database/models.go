package database

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Track names one of the two independent processing pipelines of a library.
type Track string

const (
	TrackAnalysis Track = "analysis"
	TrackReport   Track = "report"
)

// Valid reports whether t is a known track
func (t Track) Valid() bool {
	return t == TrackAnalysis || t == TrackReport
}

// TrackStatus is the lifecycle state of a track.
type TrackStatus string

const (
	StatusPending TrackStatus = "pending"
	StatusRunning TrackStatus = "running"
	StatusSuccess TrackStatus = "success"
	StatusFailed  TrackStatus = "failed"
)

// ErrSuperseded is returned by task-scoped track writes when a newer
// enqueue replaced the task that owns the track.
var ErrSuperseded = errors.New("track task superseded")

// Domain groups libraries that are ranked against each other
type Domain struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Description        string             `json:"description,omitempty"`
	CategoryWeights    map[string]float64 `json:"category_weights"`
	ComparisonMatrices map[string]any     `json:"comparison_matrices,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// TrackState is the status surface of one track
type TrackState struct {
	Status     TrackStatus `json:"status"`
	TaskID     string      `json:"task_id,omitempty"`
	Error      string      `json:"error,omitempty"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// Library is a repository under evaluation
type Library struct {
	ID             string         `json:"id"`
	DomainID       string         `json:"domain_id"`
	Name           string         `json:"name"`
	URL            string         `json:"url"`
	Analysis       TrackState     `json:"analysis"`
	Report         TrackState     `json:"report"`
	ReportPath     string         `json:"report_path,omitempty"`
	RankingResults *RankingResult `json:"ranking_results,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// State returns the status surface of track
func (l *Library) State(track Track) TrackState {
	if track == TrackReport {
		return l.Report
	}
	return l.Analysis
}

// Metric is a catalog entry describing one measurable property
type Metric struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Category       string  `json:"category"`
	Description    string  `json:"description,omitempty"`
	Weight         float64 `json:"weight"`
	OptionCategory string  `json:"option_category,omitempty"`
	Rule           string  `json:"rule,omitempty"`
	ValueType      string  `json:"value_type"`
}

// MetricValue is the recorded value of a metric for a library. Value is stored as text.
type MetricValue struct {
	ID          string    `json:"id"`
	LibraryID   string    `json:"library_id"`
	MetricID    string    `json:"metric_id"`
	Value       string    `json:"value"`
	Evidence    string    `json:"evidence,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
}

// RankingResult is the per-library ranking outcome stored on the library
type RankingResult struct {
	CategoryScores map[string]float64 `json:"category_scores"`
	OverallScore   float64            `json:"overall_score"`
	ComputedAt     time.Time          `json:"computed_at"`
}

// NewDomain creates a domain with a generated ID
func NewDomain(name string, weights map[string]float64) *Domain {
	now := time.Now().UTC()
	return &Domain{
		ID:              uuid.New().String(),
		Name:            name,
		CategoryWeights: weights,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NewLibrary creates a library with a generated ID and both tracks pending
func NewLibrary(domainID, name, url string) *Library {
	now := time.Now().UTC()
	return &Library{
		ID:        uuid.New().String(),
		DomainID:  domainID,
		Name:      name,
		URL:       url,
		Analysis:  TrackState{Status: StatusPending},
		Report:    TrackState{Status: StatusPending},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewMetric creates a catalog metric with a generated ID
func NewMetric(name, category, valueType string) *Metric {
	return &Metric{
		ID:        uuid.New().String(),
		Name:      name,
		Category:  category,
		Weight:    1,
		ValueType: valueType,
	}
}
