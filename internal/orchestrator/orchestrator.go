// Package orchestrator is the per-story driver: the named state machine of
// §4.7, the task queue that replaces fire-and-forget goroutines, and the
// self-healing sweeper of §4.8.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fablepress/storyforge/internal/chapter"
	"github.com/fablepress/storyforge/internal/config"
	"github.com/fablepress/storyforge/internal/constraints"
	"github.com/fablepress/storyforge/internal/cost"
	"github.com/fablepress/storyforge/internal/editorbrief"
	"github.com/fablepress/storyforge/internal/llm"
	"github.com/fablepress/storyforge/internal/revision"
	"github.com/fablepress/storyforge/internal/store"
	"github.com/fablepress/storyforge/internal/storymodel"
	"github.com/fablepress/storyforge/internal/taskqueue"
)

// Orchestrator drives a single story through the stage progression named in
// §4.7, delegating to the constraint engine, chapter generator, editor-brief
// builder, and revision pipeline for the work each stage performs.
type Orchestrator struct {
	store         store.Store
	gateway       llm.Gateway
	model         string
	limits        config.Limits
	chapterGen    *chapter.Generator
	editorBuilder *editorbrief.Builder
	validator     *revision.Validator
	surgical      *revision.Surgical
	costLedger    *cost.Ledger
	cover         CoverGenerator
	logger        *slog.Logger

	queue *taskqueue.Queue[StoryTask]
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCoverGenerator overrides the default no-op cover generator.
func WithCoverGenerator(cg CoverGenerator) Option {
	return func(o *Orchestrator) { o.cover = cg }
}

// New wires every component named in §2 behind the single per-story driver.
// generatorOpts are passed through to the underlying chapter.Generator, e.g.
// chapter.WithCraftRulesFile.
func New(st store.Store, gateway llm.Gateway, engine *constraints.Engine, model string, limits config.Limits, logger *slog.Logger, generatorOpts []chapter.Option, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "orchestrator")

	o := &Orchestrator{
		store:         st,
		gateway:       gateway,
		model:         model,
		limits:        limits,
		chapterGen:    chapter.New(gateway, engine, model, limits, generatorOpts...),
		editorBuilder: editorbrief.New(gateway, model, logger),
		validator:     revision.NewValidator(gateway, model, logger),
		surgical:      revision.NewSurgical(gateway, model, logger),
		costLedger:    cost.New(st),
		cover:         NoopCoverGenerator{},
		logger:        logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Advance runs one stage of storyID's generation pipeline, idempotently:
// if the stage's output already exists, it skips the LLM call and advances
// the state machine directly (§4.7's idempotency requirement for correct
// sweeper recovery).
func (o *Orchestrator) Advance(ctx context.Context, storyID string) error {
	story, err := o.store.GetStory(ctx, storyID)
	if err != nil {
		return err
	}

	step := story.Progress.CurrentStep
	switch {
	case step == storymodel.StepGeneratingBible:
		return o.advanceBible(ctx, story)
	case step == storymodel.StepGeneratingArc:
		return o.advanceArc(ctx, story)
	case chapterNumberForStep(step) > 0:
		return o.advanceChapter(ctx, story, chapterNumberForStep(step))
	default:
		// awaiting_*_feedback: blocked on the user. chapter_12_complete and
		// permanently_failed: terminal. Nothing for this stage to do.
		return nil
	}
}

// claim performs the CAS described in §5: bump last_updated before doing any
// expensive work, so a concurrent Advance (or the sweeper) observing a fresh
// last_updated treats this story as already owned and skips it. On success
// it returns the progress now stored, which the caller must adopt so later
// CAS calls in the same Advance compare against the value actually written.
func (o *Orchestrator) claim(ctx context.Context, story storymodel.Story) (storymodel.GenerationProgress, bool, error) {
	next := story.Progress
	next.LastUpdated = time.Now()
	ok, err := o.store.CompareAndSwapProgress(ctx, story.ID, story.Progress.CurrentStep, story.Progress.LastUpdated, next)
	return next, ok, err
}

// transition performs the CAS that advances current_step to next, resetting
// the circuit-breaker counters on every successful forward move.
func (o *Orchestrator) transition(ctx context.Context, story storymodel.Story, next storymodel.Step) error {
	progress := storymodel.GenerationProgress{
		CurrentStep:        next,
		ChaptersGenerated:  story.Progress.ChaptersGenerated,
		BatchStart:         story.Progress.BatchStart,
		BatchEnd:           story.Progress.BatchEnd,
		HealthCheckRetries: 0,
		LastUpdated:        time.Now(),
	}
	ok, err := o.store.CompareAndSwapProgress(ctx, story.ID, story.Progress.CurrentStep, story.Progress.LastUpdated, progress)
	if err != nil {
		return err
	}
	if !ok {
		// Someone else (a concurrent Advance, or the sweeper) already moved
		// this story on; nothing more for this call to do.
		return nil
	}
	if next.IsGenerating() {
		return o.Enqueue(ctx, story.ID)
	}
	return nil
}

func (o *Orchestrator) advanceBible(ctx context.Context, story storymodel.Story) error {
	if _, err := o.store.GetBible(ctx, story.ID); err == nil {
		return o.transition(ctx, story, storymodel.StepGeneratingArc)
	}

	claimed, ok, err := o.claim(ctx, story)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	story.Progress = claimed

	bible, completion, err := GenerateBible(ctx, o.gateway, o.model, story.ID, story.SelectedPremise)
	if err != nil {
		return err
	}
	_ = o.costLedger.Record(ctx, story.UserID, "bible_generation", completion, map[string]any{"story_id": story.ID})

	if err := o.store.PutBible(ctx, bible); err != nil {
		return err
	}
	return o.transition(ctx, story, storymodel.StepGeneratingArc)
}

func (o *Orchestrator) advanceArc(ctx context.Context, story storymodel.Story) error {
	if _, err := o.store.GetArc(ctx, story.ID); err == nil {
		return o.transition(ctx, story, storymodel.StepGeneratingChapter1)
	}

	claimed, ok, err := o.claim(ctx, story)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	story.Progress = claimed

	bible, err := o.store.GetBible(ctx, story.ID)
	if err != nil {
		return err
	}

	arc, completion, err := GenerateArc(ctx, o.gateway, o.model, story.ID, bible, o.limits.ChapterWordBand)
	if err != nil {
		return err
	}
	_ = o.costLedger.Record(ctx, story.UserID, "arc_generation", completion, map[string]any{"story_id": story.ID})

	if err := o.store.PutArc(ctx, arc); err != nil {
		return err
	}
	return o.transition(ctx, story, storymodel.StepGeneratingChapter1)
}

func (o *Orchestrator) advanceChapter(ctx context.Context, story storymodel.Story, n int) error {
	if existing, ok, err := o.store.GetChapter(ctx, story.ID, n); err != nil {
		return err
	} else if ok {
		return o.resumeExistingChapter(ctx, story, existing, n)
	}

	claimed, ok, err := o.claim(ctx, story)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	story.Progress = claimed

	bible, err := o.store.GetBible(ctx, story.ID)
	if err != nil {
		return err
	}
	arc, err := o.store.GetArc(ctx, story.ID)
	if err != nil {
		return err
	}
	outline, ok := arc.Outline(n)
	if !ok {
		return fmt.Errorf("orchestrator: no outline for chapter %d", n)
	}

	priors, err := o.priorChapterSummaries(ctx, story.ID, n)
	if err != nil {
		return err
	}

	var brief *storymodel.EditorBrief
	if n == firstChapterOfNextBatch[storymodel.CheckpointChapter2] ||
		n == firstChapterOfNextBatch[storymodel.CheckpointChapter5] ||
		n == firstChapterOfNextBatch[storymodel.CheckpointChapter8] {
		brief, err = o.buildEditorBrief(ctx, story, n)
		if err != nil {
			return err
		}
	}

	worldState, err := o.store.ListWorldStateLedger(ctx, story.ID)
	if err != nil {
		return err
	}
	characters, err := o.store.ListCharacterLedger(ctx, story.ID)
	if err != nil {
		return err
	}

	genOut, err := o.chapterGen.Generate(ctx, story.ID, chapter.GenerateInput{
		Bible:            bible,
		Outline:          outline,
		PriorChapters:    priors,
		Brief:            brief,
		RecentWorldState: worldState,
		RecentCharacters: characters,
	})
	if err != nil {
		return err
	}
	for _, c := range genOut.Completions {
		_ = o.costLedger.Record(ctx, story.UserID, "chapter_generation", c, map[string]any{"story_id": story.ID, "chapter_number": n})
	}

	next := storymodel.GenerationProgress{
		CurrentStep:        stepAfterChapterCommitted(n),
		ChaptersGenerated:  n,
		BatchStart:         story.Progress.BatchStart,
		BatchEnd:           story.Progress.BatchEnd,
		HealthCheckRetries: 0,
		LastUpdated:        time.Now(),
	}
	if err := o.store.CommitChapter(ctx, genOut.Chapter, next); err != nil {
		return err
	}
	story.Progress = next

	if err := o.runFollowup(ctx, story, genOut.Chapter, n); err != nil {
		return err
	}

	if next.CurrentStep.IsGenerating() {
		return o.Enqueue(ctx, story.ID)
	}
	return nil
}

// resumeExistingChapter handles the idempotent-resume path: chapter n is
// already committed (most likely because a prior attempt crashed after
// CommitChapter's atomic pair but before the sweeper's next pass, or this is
// a sweeper-driven re-entry), so the stage's work is advancing the state
// machine and running the non-fatal followups, never re-generating prose.
func (o *Orchestrator) resumeExistingChapter(ctx context.Context, story storymodel.Story, ch storymodel.Chapter, n int) error {
	if story.Progress.CurrentStep == storymodel.GeneratingChapterStep(n) {
		if err := o.transition(ctx, story, stepAfterChapterCommitted(n)); err != nil {
			return err
		}
	}
	return o.runFollowup(ctx, story, ch, n)
}

// runFollowup runs the post-commit work that is non-fatal to the pipeline:
// entity extraction, ledger updates, and the consistency validation +
// surgical revision pass of §4.6. It never advances current_step — the
// chapter's commit already did that.
func (o *Orchestrator) runFollowup(ctx context.Context, story storymodel.Story, ch storymodel.Chapter, n int) error {
	entities, completion, err := chapter.ExtractEntities(ctx, o.gateway, o.model, ch.Content)
	if err != nil {
		o.logger.Warn("entity extraction failed, ledgers not updated for this chapter", "story_id", story.ID, "chapter_number", n, "error", err)
	} else {
		_ = o.costLedger.Record(ctx, story.UserID, "entity_extraction", completion, map[string]any{"story_id": story.ID, "chapter_number": n})
		rows := chapter.ToChapterEntities(entities, ch.ID, story.ID, n)
		if err := o.store.PutChapterEntities(ctx, rows); err != nil {
			return err
		}
		characterEntry, worldEntry := chapter.ToLedgerEntries(entities, story.ID, n)
		if err := o.store.AppendCharacterLedger(ctx, characterEntry); err != nil {
			return err
		}
		if err := o.store.AppendWorldStateLedger(ctx, worldEntry); err != nil {
			return err
		}
	}

	bible, err := o.store.GetBible(ctx, story.ID)
	if err != nil {
		return err
	}
	priorEntities, err := o.priorEntities(ctx, story.ID)
	if err != nil {
		return err
	}

	result, validateCompletion := o.validator.Check(ctx, ch.ID, bible, priorEntities, ch.Content)
	_ = o.costLedger.Record(ctx, story.UserID, "consistency_validation", validateCompletion, map[string]any{"story_id": story.ID, "chapter_number": n})
	if err := o.store.PutValidationResult(ctx, result); err != nil {
		return err
	}

	if result.MaxSeverity() == storymodel.SeverityCritical {
		revised := o.surgical.Revise(ctx, ch.Content, result)
		revisionCompletion := llm.Completion{InputTokens: revised.InputTokens, OutputTokens: revised.OutputTokens}
		_ = o.costLedger.Record(ctx, story.UserID, "surgical_revision", revisionCompletion, map[string]any{"story_id": story.ID, "chapter_number": n})
		if revised.Revised {
			if err := o.store.ReplaceChapterContent(ctx, ch.ID, revised.Content, len(strings.Fields(revised.Content))); err != nil {
				return err
			}
		}
	}

	return nil
}

func (o *Orchestrator) priorChapterSummaries(ctx context.Context, storyID string, before int) ([]chapter.PriorChapterSummary, error) {
	if before <= 1 {
		return nil, nil
	}
	committed, err := o.store.ListChapters(ctx, storyID, 1, before-1)
	if err != nil {
		return nil, err
	}
	summaries := make([]chapter.PriorChapterSummary, len(committed))
	for i, c := range committed {
		summaries[i] = chapter.PriorChapterSummary{
			ChapterNumber: c.ChapterNumber,
			KeyEvents:     c.KeyEvents,
			OpeningHook:   c.OpeningHook,
			ClosingHook:   c.ClosingHook,
		}
	}
	return summaries, nil
}

func (o *Orchestrator) priorEntities(ctx context.Context, storyID string) ([]storymodel.ChapterEntity, error) {
	// The store interface exposes ledgers, not raw entity rows, for
	// forward-looking prompts; the consistency checker works from the same
	// ledgers every chapter prompt already consumes.
	worldState, err := o.store.ListWorldStateLedger(ctx, storyID)
	if err != nil {
		return nil, err
	}
	characters, err := o.store.ListCharacterLedger(ctx, storyID)
	if err != nil {
		return nil, err
	}
	var entities []storymodel.ChapterEntity
	for _, entry := range characters {
		for name, fact := range entry.Data {
			entities = append(entities, storymodel.ChapterEntity{
				StoryID: storyID, ChapterNumber: entry.ChapterNumber,
				EntityType: storymodel.EntityCharacter, EntityName: name, Fact: fmt.Sprintf("%v", fact),
			})
		}
	}
	for _, entry := range worldState {
		for key, fact := range entry.Data {
			entities = append(entities, storymodel.ChapterEntity{
				StoryID: storyID, ChapterNumber: entry.ChapterNumber,
				EntityType: storymodel.EntityWorldRule, EntityName: key, Fact: fmt.Sprintf("%v", fact),
			})
		}
	}
	return entities, nil
}

func (o *Orchestrator) buildEditorBrief(ctx context.Context, story storymodel.Story, batchStart int) (*storymodel.EditorBrief, error) {
	history, err := o.store.ListCheckpointFeedback(ctx, story.ID)
	if err != nil {
		return nil, err
	}
	arc, err := o.store.GetArc(ctx, story.ID)
	if err != nil {
		return nil, err
	}
	end := batchEnd(batchStart)
	var outlines []storymodel.ChapterOutline
	for n := batchStart; n <= end; n++ {
		if outline, ok := arc.Outline(n); ok {
			outlines = append(outlines, outline)
		}
	}
	brief, completion := o.editorBuilder.Build(ctx, history, outlines)
	_ = o.costLedger.Record(ctx, story.UserID, "editor_brief", completion, map[string]any{"story_id": story.ID, "batch_start": batchStart})
	return brief, nil
}
