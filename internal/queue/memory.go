package queue

import (
	"context"
	"sync"
)

// MemoryQueue is an in-process queue backed by a buffered channel
type MemoryQueue struct {
	tasks chan Task

	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates a queue holding up to capacity pending tasks
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryQueue{tasks: make(chan Task, capacity)}
}

// Publish blocks while the queue is full
func (q *MemoryQueue) Publish(ctx context.Context, task Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}

	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume runs h for each task until ctx ends or the queue is closed and drained
func (q *MemoryQueue) Consume(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case task, ok := <-q.tasks:
			if !ok {
				return nil
			}
			_ = h(ctx, task)
		}
	}
}

// Len returns the number of pending tasks
func (q *MemoryQueue) Len() int {
	return len(q.tasks)
}

// Close stops accepting tasks; consumers drain what is left
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	return nil
}
