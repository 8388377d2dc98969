package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fablepress/storyforge/internal/orchestrator"
	"github.com/fablepress/storyforge/internal/storymodel"
)

// Result reports what submitting or skipping a checkpoint caused: a fresh
// batch was kicked off, or the batch's chapters already existed (a legacy
// story resuming past feedback gates it was never blocked on).
type Result string

const (
	ResultGeneratingChapters Result = "generating_chapters"
	ResultAlreadyGenerated   Result = "already_generated"
)

// Store is the narrow persistence capability the ingest adapter needs.
type Store interface {
	UpsertCheckpointFeedback(ctx context.Context, fb storymodel.CheckpointFeedback) error
	GetStory(ctx context.Context, storyID string) (storymodel.Story, error)
	CompareAndSwapProgress(ctx context.Context, storyID string, expectedStep storymodel.Step, expectedUpdatedAt time.Time, next storymodel.GenerationProgress) (bool, error)
	CountChapters(ctx context.Context, storyID string) (int, error)
}

// Advancer hands a story back to the generation pipeline once its next
// batch is ready to run. *orchestrator.Orchestrator satisfies this.
type Advancer interface {
	Enqueue(ctx context.Context, storyID string) error
}

// Ingester normalizes, persists, and acts on reader checkpoint feedback
// (§4.9).
type Ingester struct {
	store    Store
	advancer Advancer
	logger   *slog.Logger
}

// New returns an Ingester backed by store, handing unblocked stories to
// advancer.
func New(store Store, advancer Advancer, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{store: store, advancer: advancer, logger: logger.With("component", "feedback")}
}

// Submit records dimensioned and/or free-form feedback for checkpoint and,
// if the story is currently blocked on it, advances the pipeline. Exactly
// one of dimension or freeForm must be non-nil.
func (i *Ingester) Submit(ctx context.Context, userID, storyID string, checkpoint storymodel.Checkpoint, dimension *storymodel.DimensionFeedback, freeForm *storymodel.FreeFormFeedback) (Result, error) {
	checkpoint = Normalize(checkpoint)

	fb := storymodel.CheckpointFeedback{
		UserID:     userID,
		StoryID:    storyID,
		Checkpoint: checkpoint,
		CreatedAt:  time.Now(),
	}
	switch {
	case dimension != nil:
		fb.Kind = storymodel.FeedbackDimension
		fb.Dimension = dimension
	case freeForm != nil:
		fb.Kind = storymodel.FeedbackFreeForm
		fb.FreeForm = freeForm
	default:
		return "", fmt.Errorf("feedback: submission for checkpoint %s carries no payload", checkpoint)
	}

	if err := i.store.UpsertCheckpointFeedback(ctx, fb); err != nil {
		return "", err
	}
	if checkpoint == storymodel.CheckpointLibraryExit {
		return ResultAlreadyGenerated, nil
	}
	return i.advance(ctx, storyID, checkpoint)
}

// neutralDimension is recorded for a skipped checkpoint: a reader who
// skips is treated as having no course correction to offer, so the editor
// brief builder's "latest feedback positive" check suppresses revision.
var neutralDimension = storymodel.DimensionFeedback{
	Pacing:    storymodel.PacingHooked,
	Tone:      storymodel.ToneRight,
	Character: storymodel.CharacterLove,
}

// Skip records checkpoint as skipped and advances the pipeline exactly as
// Submit would for neutral feedback.
func (i *Ingester) Skip(ctx context.Context, userID, storyID string, checkpoint storymodel.Checkpoint) error {
	checkpoint = Normalize(checkpoint)
	fb := storymodel.CheckpointFeedback{
		UserID:     userID,
		StoryID:    storyID,
		Checkpoint: checkpoint,
		Kind:       storymodel.FeedbackDimension,
		Dimension:  &neutralDimension,
		CreatedAt:  time.Now(),
	}
	if err := i.store.UpsertCheckpointFeedback(ctx, fb); err != nil {
		return err
	}
	if checkpoint == storymodel.CheckpointLibraryExit {
		return nil
	}
	_, err := i.advance(ctx, storyID, checkpoint)
	return err
}

// advance moves a story past checkpoint's feedback gate, skipping
// regeneration for legacy stories whose next batch already exists.
func (i *Ingester) advance(ctx context.Context, storyID string, checkpoint storymodel.Checkpoint) (Result, error) {
	story, err := i.store.GetStory(ctx, storyID)
	if err != nil {
		return "", err
	}

	wantStep, gated := orchestrator.AwaitingStepForCheckpoint(checkpoint)
	if !gated || story.Progress.CurrentStep != wantStep {
		// Feedback recorded for a checkpoint the story isn't (or is no
		// longer) blocked on: a late submission after the gate was
		// already passed, or a race with a concurrent submission.
		i.logger.Info("feedback recorded without a pending gate to advance",
			"story_id", storyID, "checkpoint", checkpoint, "current_step", story.Progress.CurrentStep)
		return ResultAlreadyGenerated, nil
	}

	start, ok := orchestrator.FirstChapterOfNextBatch(checkpoint)
	if !ok {
		return "", fmt.Errorf("feedback: checkpoint %s has no next batch", checkpoint)
	}
	end := orchestrator.BatchEnd(start)

	count, err := i.store.CountChapters(ctx, storyID)
	if err != nil {
		return "", err
	}

	result := ResultGeneratingChapters
	nextStep := storymodel.GeneratingChapterStep(start)
	if count >= end {
		// The batch this checkpoint unblocks was already generated
		// (a legacy story resuming past a gate it predates); skip
		// straight to whatever follows the batch instead of redoing it.
		nextStep = orchestrator.StepAfterChapterCommitted(end)
		result = ResultAlreadyGenerated
	}

	next := storymodel.GenerationProgress{
		CurrentStep:       nextStep,
		ChaptersGenerated: story.Progress.ChaptersGenerated,
		BatchStart:        story.Progress.BatchStart,
		BatchEnd:          story.Progress.BatchEnd,
		LastUpdated:       time.Now(),
	}
	claimed, err := i.store.CompareAndSwapProgress(ctx, storyID, story.Progress.CurrentStep, story.Progress.LastUpdated, next)
	if err != nil {
		return "", err
	}
	if !claimed {
		// Another submission (or the sweeper) already advanced this story.
		return result, nil
	}
	if err := i.advancer.Enqueue(ctx, storyID); err != nil {
		return "", err
	}
	return result, nil
}
