// Package taskqueue is the generic producer/consumer queue that replaces
// ad-hoc fire-and-forget goroutines for story advancement (§4.7). A buffered
// channel is the queue; a bounded pool of worker goroutines is the sole
// consumer. The orchestrator and the sweeper are both producers.
package taskqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Task is the unit of work a Queue distributes to its workers.
type Task interface {
	// ID identifies the task for logging; it need not be unique.
	ID() string
}

// Handler processes one task. A returned error is logged but never stops
// the pool — one story's failure must not starve the others.
type Handler[T Task] func(ctx context.Context, task T) error

// Queue is a bounded worker pool draining a buffered channel of tasks.
// Generalizes the repository's WorkItem/Processor worker-pool idiom from a
// batch "process N items and wait" shape to a long-running streaming queue.
type Queue[T Task] struct {
	tasks   chan T
	workers int
	handler Handler[T]
	logger  *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// New returns a Queue with the given worker concurrency and channel buffer
// size. Workers are not started until Start is called.
func New[T Task](workers, bufferSize int, handler Handler[T], logger *slog.Logger) *Queue[T] {
	if workers < 1 {
		workers = 1
	}
	if bufferSize < 1 {
		bufferSize = workers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue[T]{
		tasks:   make(chan T, bufferSize),
		workers: workers,
		handler: handler,
		logger:  logger.With("component", "taskqueue"),
	}
}

// Start launches the worker pool. It returns immediately; workers run until
// ctx is cancelled or Stop is called.
func (q *Queue[T]) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true

	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	group, groupCtx := errgroup.WithContext(ctx)
	q.group = group

	for i := 0; i < q.workers; i++ {
		workerID := i
		group.Go(func() error {
			q.runWorker(groupCtx, workerID)
			return nil
		})
	}
}

func (q *Queue[T]) runWorker(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-q.tasks:
			if !ok {
				return
			}
			if err := q.handler(ctx, task); err != nil {
				q.logger.Error("task failed", "worker", workerID, "task", task.ID(), "error", err)
			}
		}
	}
}

// Enqueue submits task to the queue, blocking until there is buffer space
// or ctx is cancelled.
func (q *Queue[T]) Enqueue(ctx context.Context, task T) error {
	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("taskqueue: enqueue %s: %w", task.ID(), ctx.Err())
	}
}

// Stop cancels all workers and waits for them to return.
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	cancel := q.cancel
	group := q.group
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if group != nil {
		group.Wait()
	}
}
