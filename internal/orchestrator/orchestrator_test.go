package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/fablepress/storyforge/internal/config"
	"github.com/fablepress/storyforge/internal/constraints"
	"github.com/fablepress/storyforge/internal/llm"
	"github.com/fablepress/storyforge/internal/store"
	"github.com/fablepress/storyforge/internal/storymodel"
)

func newTestStory(step storymodel.Step) storymodel.Story {
	now := time.Now()
	return storymodel.Story{
		ID:     "story-1",
		UserID: "user-1",
		Title:  "The Spire's Shadow",
		Genre:  "fantasy",
		Status: storymodel.StatusGenerating,
		Progress: storymodel.GenerationProgress{
			CurrentStep: step,
			LastUpdated: now,
		},
		SelectedPremise: testPremise(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func newTestOrchestrator(gw llm.Gateway) *Orchestrator {
	engine := constraints.New(gw, "claude-3-5-sonnet-20241022")
	return New(store.NewMemory(), gw, engine, "claude-3-5-sonnet-20241022", config.DefaultLimits(), nil, nil)
}

func TestAdvanceBibleGeneratesAndTransitions(t *testing.T) {
	gw := &scriptedGateway{responses: []string{validBibleJSON}}
	o := newTestOrchestrator(gw)
	ctx := context.Background()

	story := newTestStory(storymodel.StepGeneratingBible)
	if err := o.store.CreateStory(ctx, story); err != nil {
		t.Fatalf("CreateStory: %v", err)
	}

	if err := o.Advance(ctx, story.ID); err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}

	bible, err := o.store.GetBible(ctx, story.ID)
	if err != nil {
		t.Fatalf("expected a bible to have been written: %v", err)
	}
	if bible.Protagonist.Name != "Mara" {
		t.Errorf("bible.Protagonist.Name = %q, want Mara", bible.Protagonist.Name)
	}

	updated, err := o.store.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if updated.Progress.CurrentStep != storymodel.StepGeneratingArc {
		t.Errorf("CurrentStep = %s, want generating_arc", updated.Progress.CurrentStep)
	}
	if gw.calls != 1 {
		t.Errorf("gateway calls = %d, want 1", gw.calls)
	}
}

func TestAdvanceBibleIdempotentResume(t *testing.T) {
	gw := &scriptedGateway{err: errFakeGatewayShouldNotBeCalled}
	o := newTestOrchestrator(gw)
	ctx := context.Background()

	story := newTestStory(storymodel.StepGeneratingBible)
	if err := o.store.CreateStory(ctx, story); err != nil {
		t.Fatalf("CreateStory: %v", err)
	}
	if err := o.store.PutBible(ctx, storymodel.Bible{StoryID: story.ID, Protagonist: storymodel.Character{Name: "Mara"}}); err != nil {
		t.Fatalf("PutBible: %v", err)
	}

	if err := o.Advance(ctx, story.ID); err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if gw.calls != 0 {
		t.Errorf("gateway was called %d times, want 0 (bible already exists, should skip straight to transition)", gw.calls)
	}

	updated, err := o.store.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if updated.Progress.CurrentStep != storymodel.StepGeneratingArc {
		t.Errorf("CurrentStep = %s, want generating_arc", updated.Progress.CurrentStep)
	}
}

func TestAdvanceBibleSkipsWhenAlreadyClaimed(t *testing.T) {
	gw := &scriptedGateway{err: errFakeGatewayShouldNotBeCalled}
	o := newTestOrchestrator(gw)
	ctx := context.Background()

	story := newTestStory(storymodel.StepGeneratingBible)
	if err := o.store.CreateStory(ctx, story); err != nil {
		t.Fatalf("CreateStory: %v", err)
	}

	// Simulate a concurrent caller already having bumped last_updated via its
	// own claim, so this orchestrator's view of the story is stale.
	claimed := story.Progress
	claimed.LastUpdated = story.Progress.LastUpdated.Add(time.Second)
	ok, err := o.store.CompareAndSwapProgress(ctx, story.ID, story.Progress.CurrentStep, story.Progress.LastUpdated, claimed)
	if err != nil || !ok {
		t.Fatalf("setup CAS failed: ok=%v err=%v", ok, err)
	}

	stale := &staleGetStore{Store: o.store, story: story}
	o.store = stale

	if err := o.Advance(ctx, story.ID); err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if gw.calls != 0 {
		t.Errorf("gateway was called %d times, want 0 (story already claimed by someone else)", gw.calls)
	}
	if _, err := stale.Store.GetBible(ctx, story.ID); err == nil {
		t.Error("expected no bible to have been written")
	}
}

func TestAdvanceArcGeneratesAndTransitions(t *testing.T) {
	numbers := [12]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	gw := &scriptedGateway{responses: []string{validArcJSON(numbers)}}
	o := newTestOrchestrator(gw)
	ctx := context.Background()

	story := newTestStory(storymodel.StepGeneratingArc)
	if err := o.store.CreateStory(ctx, story); err != nil {
		t.Fatalf("CreateStory: %v", err)
	}
	if err := o.store.PutBible(ctx, testBible()); err != nil {
		t.Fatalf("PutBible: %v", err)
	}

	if err := o.Advance(ctx, story.ID); err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}

	arc, err := o.store.GetArc(ctx, story.ID)
	if err != nil {
		t.Fatalf("expected an arc to have been written: %v", err)
	}
	if _, ok := arc.Outline(1); !ok {
		t.Error("expected an outline for chapter 1")
	}

	updated, err := o.store.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if updated.Progress.CurrentStep != storymodel.StepGeneratingChapter1 {
		t.Errorf("CurrentStep = %s, want generating_chapter_1", updated.Progress.CurrentStep)
	}
}

const passingChapterDraft = "She found the letter beneath the floorboard.\n\nVoss stood waiting, smiling like he already knew.\n\nThe bells began to ring."

const emptyEntityExtraction = `{"entities": []}`
const cleanValidationResult = `{"issues": []}`

func setupChapterStory(t *testing.T, o *Orchestrator, step storymodel.Step) storymodel.Story {
	t.Helper()
	ctx := context.Background()
	story := newTestStory(step)
	if err := o.store.CreateStory(ctx, story); err != nil {
		t.Fatalf("CreateStory: %v", err)
	}
	if err := o.store.PutBible(ctx, testBible()); err != nil {
		t.Fatalf("PutBible: %v", err)
	}
	numbers := [12]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	arcJSON := validArcJSON(numbers)
	arc, _, err := GenerateArc(ctx, &scriptedGateway{responses: []string{arcJSON}}, "claude-3-5-sonnet-20241022", story.ID, testBible(), [2]int{2200, 3200})
	if err != nil {
		t.Fatalf("building test arc: %v", err)
	}
	if err := o.store.PutArc(ctx, arc); err != nil {
		t.Fatalf("PutArc: %v", err)
	}
	return story
}

func chapterPipelineResponses() []string {
	return []string{
		validConstraintSet,
		passingChapterDraft,
		passingQualityReview,
		passingValidation,
		emptyEntityExtraction,
		cleanValidationResult,
	}
}

const validConstraintSet = `{
	"must": [
		{"id": "m1", "statement": "reveal the letter", "source": "arc_key_revelations"},
		{"id": "m2", "statement": "confront the antagonist", "source": "arc_events_summary"},
		{"id": "m3", "statement": "raise the stakes", "source": "arc_events_summary"}
	],
	"must_not": [
		{"id": "mn1", "statement": "do not kill the mentor", "source": "world_state_ledger"},
		{"id": "mn2", "statement": "do not contradict the timeline", "source": "bible"}
	],
	"should": [
		{"id": "s1", "statement": "callback to chapter 1 motif"},
		{"id": "s2", "statement": "deepen the romantic subplot"}
	]
}`

const passingQualityReview = `{"criteria": [
	{"name": "show_dont_tell", "score": 8},
	{"name": "dialogue", "score": 8},
	{"name": "pacing", "score": 8},
	{"name": "age_appropriateness", "score": 9},
	{"name": "character_consistency", "score": 8},
	{"name": "prose_quality", "score": 8}
]}`

const passingValidation = `{
	"verdict": "PASS",
	"must_checks": [
		{"id": "m1", "status": "DELIVERED", "quote": "she opened the letter"},
		{"id": "m2", "status": "DELIVERED", "quote": "she faced him"},
		{"id": "m3", "status": "DELIVERED", "quote": "the stakes rose"}
	],
	"must_not_checks": [
		{"id": "mn1", "status": "CLEAR"},
		{"id": "mn2", "status": "CLEAR"}
	]
}`

func TestAdvanceChapterGeneratesCommitsAndTransitions(t *testing.T) {
	gw := &scriptedGateway{responses: chapterPipelineResponses()}
	o := newTestOrchestrator(gw)
	ctx := context.Background()
	story := setupChapterStory(t, o, storymodel.StepGeneratingChapter1)

	if err := o.Advance(ctx, story.ID); err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}

	ch, ok, err := o.store.GetChapter(ctx, story.ID, 1)
	if err != nil {
		t.Fatalf("GetChapter: %v", err)
	}
	if !ok {
		t.Fatal("expected chapter 1 to be committed")
	}
	if ch.Content == "" {
		t.Error("expected chapter content to be set")
	}

	updated, err := o.store.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if updated.Progress.CurrentStep != storymodel.StepGeneratingChapter2 {
		t.Errorf("CurrentStep = %s, want generating_chapter_2", updated.Progress.CurrentStep)
	}
	if updated.Progress.ChaptersGenerated != 1 {
		t.Errorf("ChaptersGenerated = %d, want 1", updated.Progress.ChaptersGenerated)
	}
}

func TestAdvanceChapterLandsOnFeedbackGateAfterChapter3(t *testing.T) {
	gw := &scriptedGateway{responses: chapterPipelineResponses()}
	o := newTestOrchestrator(gw)
	ctx := context.Background()
	story := setupChapterStory(t, o, storymodel.StepGeneratingChapter3)

	if err := o.Advance(ctx, story.ID); err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}

	updated, err := o.store.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if updated.Progress.CurrentStep != storymodel.StepAwaitingChapter2Feedback {
		t.Errorf("CurrentStep = %s, want awaiting_chapter_2_feedback", updated.Progress.CurrentStep)
	}
}

func TestAdvanceChapterResumesFollowupForAlreadyCommittedChapter(t *testing.T) {
	gw := &scriptedGateway{responses: []string{emptyEntityExtraction, cleanValidationResult}}
	o := newTestOrchestrator(gw)
	ctx := context.Background()
	story := setupChapterStory(t, o, storymodel.StepGeneratingChapter1)

	committed := storymodel.Chapter{
		ID:            "ch-1",
		StoryID:       story.ID,
		ChapterNumber: 1,
		Title:         "Already written",
		Content:       "already committed content",
		WordCount:     3,
	}
	next := story.Progress
	next.CurrentStep = storymodel.StepGeneratingChapter2
	next.ChaptersGenerated = 1
	if err := o.store.CommitChapter(ctx, committed, next); err != nil {
		t.Fatalf("CommitChapter setup: %v", err)
	}

	// Simulate a crash between CommitChapter's atomic write and the state
	// machine actually moving past generating_chapter_1: force current_step
	// back so Advance still targets chapter 1 and must take the
	// already-committed resume path instead of regenerating prose.
	stuck, err := o.store.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	stuck.Progress.CurrentStep = storymodel.StepGeneratingChapter1
	if err := o.store.UpdateStory(ctx, stuck); err != nil {
		t.Fatalf("UpdateStory setup: %v", err)
	}

	if err := o.Advance(ctx, story.ID); err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	// Only the two follow-up calls (entity extraction, consistency check)
	// should fire; the 4-call draft-generation pipeline must not re-run.
	if gw.calls != 2 {
		t.Errorf("gateway was called %d times, want 2 (chapter 1 already committed, only follow-up reruns)", gw.calls)
	}

	updated, err := o.store.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if updated.Progress.CurrentStep != storymodel.StepGeneratingChapter2 {
		t.Errorf("CurrentStep = %s, want generating_chapter_2 (resume should transition forward)", updated.Progress.CurrentStep)
	}
}

func TestAdvanceAwaitingFeedbackIsANoop(t *testing.T) {
	gw := &scriptedGateway{err: errFakeGatewayShouldNotBeCalled}
	o := newTestOrchestrator(gw)
	ctx := context.Background()
	story := newTestStory(storymodel.StepAwaitingChapter2Feedback)
	if err := o.store.CreateStory(ctx, story); err != nil {
		t.Fatalf("CreateStory: %v", err)
	}

	if err := o.Advance(ctx, story.ID); err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if gw.calls != 0 {
		t.Errorf("gateway was called %d times, want 0", gw.calls)
	}

	updated, err := o.store.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if updated.Progress.CurrentStep != storymodel.StepAwaitingChapter2Feedback {
		t.Errorf("CurrentStep changed to %s, should stay awaiting_chapter_2_feedback", updated.Progress.CurrentStep)
	}
}

func TestAdvanceTerminalStepsAreNoops(t *testing.T) {
	for _, step := range []storymodel.Step{storymodel.StepChapter12Complete, storymodel.StepPermanentlyFailed} {
		gw := &scriptedGateway{err: errFakeGatewayShouldNotBeCalled}
		o := newTestOrchestrator(gw)
		ctx := context.Background()
		story := newTestStory(step)
		if err := o.store.CreateStory(ctx, story); err != nil {
			t.Fatalf("CreateStory: %v", err)
		}
		if err := o.Advance(ctx, story.ID); err != nil {
			t.Fatalf("Advance(%s) returned error: %v", step, err)
		}
		if gw.calls != 0 {
			t.Errorf("Advance(%s) called the gateway %d times, want 0", step, gw.calls)
		}
	}
}

// staleGetStore wraps a Store but always returns a fixed, possibly-stale
// snapshot from GetStory, to simulate a caller racing a concurrent claim.
type staleGetStore struct {
	store.Store
	story storymodel.Story
}

func (s *staleGetStore) GetStory(ctx context.Context, id string) (storymodel.Story, error) {
	return s.story, nil
}

var errFakeGatewayShouldNotBeCalled = fakeErr("the gateway must not be called on this path")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
