package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/domainx/internal/database"
	apperrors "github.com/ZanzyTHEbar/domainx/internal/errors"
	"github.com/ZanzyTHEbar/domainx/internal/monitoring"
)

// Router publishes each task to the queue of its track
type Router struct {
	queues  map[database.Track]Queue
	metrics *monitoring.Metrics
}

// NewRouter creates a router over per-track queues
func NewRouter(queues map[database.Track]Queue, metrics *monitoring.Metrics) *Router {
	return &Router{queues: queues, metrics: metrics}
}

// Dispatch publishes task to its track's queue
func (r *Router) Dispatch(ctx context.Context, task Task) error {
	q, ok := r.queues[task.Track]
	if !ok {
		return apperrors.NewValidationError("no queue for track", string(task.Track))
	}

	if err := q.Publish(ctx, task); err != nil {
		return apperrors.NewInternalError("failed to enqueue task", err)
	}

	r.metrics.IncrementQueueTask(string(task.Track), "published")
	return nil
}

// Inline runs tasks synchronously in the caller's goroutine
type Inline struct {
	mu      sync.RWMutex
	handler Handler
}

// NewInline creates an inline dispatcher; Bind must be called before Dispatch
func NewInline() *Inline {
	return &Inline{}
}

// Bind sets the handler that runs dispatched tasks
func (d *Inline) Bind(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

// Dispatch runs the task and returns the handler's error
func (d *Inline) Dispatch(ctx context.Context, task Task) error {
	d.mu.RLock()
	h := d.handler
	d.mu.RUnlock()

	if h == nil {
		return apperrors.NewInternalError("inline dispatcher has no handler", nil)
	}
	return h(ctx, task)
}

// Pool runs a fixed number of consumers against one queue
type Pool struct {
	name    string
	queue   Queue
	workers int
	timeout time.Duration
	handler Handler
	metrics *monitoring.Metrics

	wg sync.WaitGroup
}

// NewPool creates a pool. Each task runs under its own timeout.
func NewPool(name string, q Queue, workers int, timeout time.Duration, h Handler, metrics *monitoring.Metrics) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		name:    name,
		queue:   q,
		workers: workers,
		timeout: timeout,
		handler: h,
		metrics: metrics,
	}
}

// Start launches the consumers. They stop when ctx ends.
func (p *Pool) Start(ctx context.Context) {
	slog.Info("Starting worker pool", "queue", p.name, "workers", p.workers, "task_timeout", p.timeout)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			if err := p.queue.Consume(ctx, p.run); err != nil {
				slog.Error("Worker stopped", "queue", p.name, "worker", worker, "error", err)
			}
		}(i)
	}
}

// Wait blocks until every consumer has returned
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, task Task) (err error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			p.metrics.IncrementQueueTask(string(task.Track), "panic")
			slog.Error("Task panicked",
				"queue", p.name,
				"task_id", task.ID,
				"library_id", task.LibraryID,
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("task %s panicked: %v", task.ID, r)
		}
	}()

	p.metrics.IncrementQueueTask(string(task.Track), "consumed")

	if err := p.handler(ctx, task); err != nil {
		slog.Warn("Task finished with error", "queue", p.name, "task_id", task.ID, "error", err)
		return err
	}
	return nil
}
