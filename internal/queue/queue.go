// Package queue carries track tasks from triggers to workers.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/ZanzyTHEbar/domainx/internal/database"
)

// ErrClosed is returned when publishing to a closed queue.
var ErrClosed = errors.New("queue closed")

// Task is one unit of work: a single library on a single track.
type Task struct {
	ID         string         `json:"id"`
	LibraryID  string         `json:"library_id"`
	RepoURL    string         `json:"repo_url"`
	Track      database.Track `json:"track"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// Handler processes a task to completion.
type Handler func(ctx context.Context, task Task) error

// Queue is a FIFO of tasks with at-most-once delivery.
type Queue interface {
	Publish(ctx context.Context, task Task) error
	// Consume delivers tasks to h one at a time until ctx ends.
	Consume(ctx context.Context, h Handler) error
	Close() error
}
