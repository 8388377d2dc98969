package orchestrator

import (
	"context"

	"github.com/fablepress/storyforge/internal/taskqueue"
)

// StoryTask is the unit of work enqueued onto the task queue: "advance this
// story by one stage." The orchestrator and the sweeper are both producers;
// the worker pool started by Start is the sole consumer (§4.7).
type StoryTask struct {
	StoryID string
}

// ID satisfies taskqueue.Task.
func (t StoryTask) ID() string { return t.StoryID }

// Start launches the worker pool that drains the task queue, bounded by
// config.Limits.ConcurrentStoriesCap. Call once per process.
func (o *Orchestrator) Start(ctx context.Context) {
	o.queue = taskqueue.New[StoryTask](o.limits.ConcurrentStoriesCap, o.limits.ConcurrentStoriesCap*4,
		func(ctx context.Context, t StoryTask) error {
			return o.Advance(ctx, t.StoryID)
		}, o.logger)
	o.queue.Start(ctx)
}

// Stop cancels the worker pool and waits for its workers to return. Tasks
// still waiting in the queue are not run.
func (o *Orchestrator) Stop() {
	if o.queue != nil {
		o.queue.Stop()
	}
}

// Enqueue submits storyID for background advancement. If the worker pool
// hasn't been started (Start wasn't called, e.g. in a test harness driving
// Advance directly), it logs and returns nil: the story's state was already
// advanced by the caller's CAS, and the sweeper will pick it up on its next
// pass regardless. A missing queue must never surface as a stage failure —
// that would trip the sweeper's circuit breaker over nothing.
func (o *Orchestrator) Enqueue(ctx context.Context, storyID string) error {
	if o.queue == nil {
		o.logger.Warn("enqueue skipped: worker pool not started", "story_id", storyID)
		return nil
	}
	return o.queue.Enqueue(ctx, StoryTask{StoryID: storyID})
}
