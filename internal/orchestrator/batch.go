package orchestrator

import (
	"context"
	"errors"

	"github.com/ZanzyTHEbar/domainx/internal/database"
	apperrors "github.com/ZanzyTHEbar/domainx/internal/errors"
)

// Batch item outcomes.
const (
	OutcomeQueued  = "queued"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// BatchItem is the outcome of one library in a batch trigger
type BatchItem struct {
	LibraryID string `json:"library_id"`
	Name      string `json:"name"`
	Outcome   string `json:"outcome"`
	TaskID    string `json:"task_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BatchResult is the outcome of a batch trigger
type BatchResult struct {
	DomainID string      `json:"domain_id"`
	Track    string      `json:"track"`
	Total    int         `json:"total"`
	Queued   int         `json:"queued"`
	Skipped  int         `json:"skipped"`
	Failed   int         `json:"failed"`
	Items    []BatchItem `json:"items"`
}

// EnqueueDomain triggers track for every library of a domain. One library
// failing never stops the rest; the error return covers only listing the domain.
func (o *Orchestrator) EnqueueDomain(ctx context.Context, domainID string, track database.Track) (*BatchResult, error) {
	if !track.Valid() {
		return nil, apperrors.NewValidationError("unknown track", string(track))
	}

	libs, err := o.store.ListLibrariesByDomain(ctx, domainID)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{
		DomainID: domainID,
		Track:    string(track),
		Total:    len(libs),
		Items:    make([]BatchItem, 0, len(libs)),
	}

	for _, lib := range libs {
		item := BatchItem{LibraryID: lib.ID, Name: lib.Name}

		taskID, err := o.enqueue(ctx, lib.ID, track)
		item.TaskID = taskID
		switch {
		case err == nil:
			item.Outcome = OutcomeQueued
			result.Queued++
		case errors.Is(err, ErrNothingQueued):
			item.Outcome = OutcomeSkipped
			item.Error = MsgMissingURL
			result.Skipped++
		default:
			item.Outcome = OutcomeFailed
			item.Error = failureMessage(track)
			result.Failed++
			o.logger.Warn("Batch item failed",
				"domain_id", domainID,
				"library_id", lib.ID,
				"track", track,
				"error", err,
			)
		}
		result.Items = append(result.Items, item)
	}

	o.logger.Info("Batch trigger finished",
		"domain_id", domainID,
		"track", track,
		"total", result.Total,
		"queued", result.Queued,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}

func failureMessage(track database.Track) string {
	if track == database.TrackReport {
		return MsgReportFailed
	}
	return MsgAnalysisFailed
}
