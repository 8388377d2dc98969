// Package storyapi is the narrow surface the outer request layer calls into
// to drive story generation: pick a premise, check progress, force chapters
// forward for testing, and resolve feedback checkpoints.
package storyapi

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fablepress/storyforge/internal/feedback"
	"github.com/fablepress/storyforge/internal/orchestrator"
	"github.com/fablepress/storyforge/internal/store"
	"github.com/fablepress/storyforge/internal/storymodel"
)

// API is the inbound surface storyforge exposes to its callers.
type API interface {
	SelectPremise(ctx context.Context, userID string, selection PremiseSelection) (storyID string, err error)
	GenerationStatus(ctx context.Context, storyID string) (Status, error)
	GenerateNext(ctx context.Context, storyID string, count int) ([]ChapterSummary, error)
	SubmitCheckpointFeedback(ctx context.Context, userID, storyID string, checkpoint storymodel.Checkpoint, dimensions *storymodel.DimensionFeedback, freeForm *storymodel.FreeFormFeedback) (feedback.Result, error)
	SkipCheckpoint(ctx context.Context, userID, storyID string, checkpoint storymodel.Checkpoint) error
}

// PremiseSelection identifies which premise a reader chose: one of the
// three slots in a generated PremiseSet, or a fully custom premise that
// bypasses the set entirely.
type PremiseSelection struct {
	PremiseSetID string `validate:"required_without=Custom"`
	Index        int    `validate:"omitempty,min=0,max=2"`
	Custom       *storymodel.Premise
}

// Status is the generation-progress snapshot GenerationStatus returns.
type Status struct {
	Status            storymodel.StoryStatus
	CurrentStep       storymodel.Step
	ChaptersAvailable int
	Error             string
}

// ChapterSummary is one committed chapter's headline data. GenerateNext
// returns these instead of full chapter bodies, which callers fetch
// separately if they need the text.
type ChapterSummary struct {
	ChapterNumber int
	Title         string
	WordCount     int
	QualityScore  float64
}

type storyAPI struct {
	store        store.Store
	orchestrator *orchestrator.Orchestrator
	feedback     *feedback.Ingester
	validate     *validator.Validate
}

// New wires the three components every operation above needs.
func New(st store.Store, orch *orchestrator.Orchestrator, ing *feedback.Ingester) API {
	return &storyAPI{store: st, orchestrator: orch, feedback: ing, validate: validator.New()}
}

// SelectPremise resolves selection to a concrete premise, creates the
// story, and enqueues it for background generation. It returns as soon as
// the story row exists; generation runs asynchronously.
func (a *storyAPI) SelectPremise(ctx context.Context, userID string, selection PremiseSelection) (string, error) {
	if err := a.validate.Struct(selection); err != nil {
		return "", fmt.Errorf("storyapi: invalid premise selection: %w", err)
	}

	premise, err := a.resolvePremise(ctx, userID, selection)
	if err != nil {
		return "", err
	}

	now := time.Now()
	story := storymodel.Story{
		ID:              uuid.New().String(),
		UserID:          userID,
		Title:           premise.Title,
		Genre:           premise.Genre,
		Status:          storymodel.StatusGenerating,
		Progress:        storymodel.GenerationProgress{CurrentStep: storymodel.StepGeneratingBible, LastUpdated: now},
		SelectedPremise: premise,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := a.store.CreateStory(ctx, story); err != nil {
		return "", err
	}
	if err := a.orchestrator.Enqueue(ctx, story.ID); err != nil {
		return "", err
	}
	return story.ID, nil
}

func (a *storyAPI) resolvePremise(ctx context.Context, userID string, selection PremiseSelection) (storymodel.Premise, error) {
	if selection.Custom != nil {
		return *selection.Custom, nil
	}

	set, err := a.store.GetPremiseSet(ctx, selection.PremiseSetID)
	if err != nil {
		return storymodel.Premise{}, err
	}
	if set.UserID != userID {
		return storymodel.Premise{}, fmt.Errorf("storyapi: premise set %s does not belong to user %s", selection.PremiseSetID, userID)
	}
	if set.Discarded {
		return storymodel.Premise{}, fmt.Errorf("storyapi: premise set %s has already been used", selection.PremiseSetID)
	}
	premise := set.Premises[selection.Index]
	if err := a.store.DiscardPremiseSet(ctx, set.ID); err != nil {
		return storymodel.Premise{}, err
	}
	return premise, nil
}

// GenerationStatus reports a story's current status, step, and readable
// chapter count. Partial results are always valid: a committed chapter is
// readable even after a later stage fails.
func (a *storyAPI) GenerationStatus(ctx context.Context, storyID string) (Status, error) {
	story, err := a.store.GetStory(ctx, storyID)
	if err != nil {
		return Status{}, err
	}
	count, err := a.store.CountChapters(ctx, storyID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Status:            story.Status,
		CurrentStep:       story.Progress.CurrentStep,
		ChaptersAvailable: count,
		Error:             story.Progress.LastError,
	}, nil
}

// isBlocked reports whether step requires outside input before the
// pipeline can progress further: a feedback gate, or a terminal state.
func isBlocked(step storymodel.Step) bool {
	return step.IsAwaitingFeedback() || step == storymodel.StepChapter12Complete || step == storymodel.StepPermanentlyFailed
}

// maxAdvanceSteps bounds GenerateNext's drive loop: the bible and arc
// stages each take one Advance call before any chapter can start, plus one
// Advance call per requested chapter; the doubling leaves headroom for a
// stage that resumes idempotently rather than committing on its own call.
func maxAdvanceSteps(count int) int {
	return count*2 + 4
}

// GenerateNext manually drives the pipeline until count additional
// chapters are committed, the story hits a feedback gate, or it reaches a
// terminal state. It is the admin/test path; production stories advance on
// their own via the task queue.
func (a *storyAPI) GenerateNext(ctx context.Context, storyID string, count int) ([]ChapterSummary, error) {
	if count <= 0 {
		return nil, fmt.Errorf("storyapi: count must be positive, got %d", count)
	}

	before, err := a.store.CountChapters(ctx, storyID)
	if err != nil {
		return nil, err
	}
	target := before + count

	for i := 0; i < maxAdvanceSteps(count); i++ {
		story, err := a.store.GetStory(ctx, storyID)
		if err != nil {
			return nil, err
		}
		current, err := a.store.CountChapters(ctx, storyID)
		if err != nil {
			return nil, err
		}
		if current >= target || isBlocked(story.Progress.CurrentStep) {
			break
		}
		if err := a.orchestrator.Advance(ctx, storyID); err != nil {
			return nil, err
		}
	}

	after, err := a.store.CountChapters(ctx, storyID)
	if err != nil {
		return nil, err
	}
	end := after
	if end > target {
		end = target
	}
	if end <= before {
		return nil, nil
	}

	chapters, err := a.store.ListChapters(ctx, storyID, before+1, end)
	if err != nil {
		return nil, err
	}
	summaries := make([]ChapterSummary, 0, len(chapters))
	for _, ch := range chapters {
		summaries = append(summaries, ChapterSummary{
			ChapterNumber: ch.ChapterNumber,
			Title:         ch.Title,
			WordCount:     ch.WordCount,
			QualityScore:  ch.QualityScore,
		})
	}
	return summaries, nil
}

// SubmitCheckpointFeedback records feedback for checkpoint and, if the
// story is blocked on it, advances the pipeline.
func (a *storyAPI) SubmitCheckpointFeedback(ctx context.Context, userID, storyID string, checkpoint storymodel.Checkpoint, dimensions *storymodel.DimensionFeedback, freeForm *storymodel.FreeFormFeedback) (feedback.Result, error) {
	return a.feedback.Submit(ctx, userID, storyID, checkpoint, dimensions, freeForm)
}

// SkipCheckpoint records checkpoint as skipped and advances the pipeline.
func (a *storyAPI) SkipCheckpoint(ctx context.Context, userID, storyID string, checkpoint storymodel.Checkpoint) error {
	return a.feedback.Skip(ctx, userID, storyID, checkpoint)
}
