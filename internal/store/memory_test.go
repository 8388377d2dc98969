package store

import (
	"context"
	"testing"
	"time"

	"github.com/fablepress/storyforge/internal/storymodel"
)

func newTestStory(id string) storymodel.Story {
	now := time.Now()
	return storymodel.Story{
		ID:     id,
		UserID: "user-1",
		Title:  "Test Story",
		Status: storymodel.StatusGenerating,
		Progress: storymodel.GenerationProgress{
			CurrentStep: storymodel.StepGeneratingChapter1,
			LastUpdated: now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryCommitChapterAtomicity(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	s := newTestStory("story-1")
	if err := m.CreateStory(ctx, s); err != nil {
		t.Fatalf("CreateStory: %v", err)
	}

	next := s.Progress
	next.ChaptersGenerated = 1
	next.CurrentStep = storymodel.StepGeneratingChapter2
	next.LastUpdated = time.Now()

	ch := storymodel.Chapter{ID: "ch-1", StoryID: s.ID, ChapterNumber: 1}
	if err := m.CommitChapter(ctx, ch, next); err != nil {
		t.Fatalf("CommitChapter: %v", err)
	}

	got, err := m.GetStory(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if got.Progress.CurrentStep != storymodel.StepGeneratingChapter2 {
		t.Errorf("progress not advanced: got %s", got.Progress.CurrentStep)
	}

	count, err := m.CountChapters(ctx, s.ID)
	if err != nil || count != 1 {
		t.Errorf("CountChapters = %d, %v, want 1, nil", count, err)
	}
}

func TestMemoryCommitChapterRejectsDuplicateSlot(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	s := newTestStory("story-2")
	_ = m.CreateStory(ctx, s)

	ch := storymodel.Chapter{ID: "ch-1", StoryID: s.ID, ChapterNumber: 1}
	if err := m.CommitChapter(ctx, ch, s.Progress); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if err := m.CommitChapter(ctx, ch, s.Progress); err == nil {
		t.Fatal("expected error committing the same (story, chapter_number) slot twice")
	}
}

func TestMemoryCompareAndSwapProgress(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	s := newTestStory("story-3")
	_ = m.CreateStory(ctx, s)

	stale := s.Progress.LastUpdated.Add(-time.Minute)
	next := s.Progress
	next.CurrentStep = storymodel.StepGeneratingChapter2

	ok, err := m.CompareAndSwapProgress(ctx, s.ID, storymodel.StepGeneratingChapter1, stale, next)
	if err != nil {
		t.Fatalf("CompareAndSwapProgress: %v", err)
	}
	if ok {
		t.Fatal("expected CAS to fail on stale last_updated, as if another writer already owns the row")
	}

	ok, err = m.CompareAndSwapProgress(ctx, s.ID, storymodel.StepGeneratingChapter1, s.Progress.LastUpdated, next)
	if err != nil {
		t.Fatalf("CompareAndSwapProgress: %v", err)
	}
	if !ok {
		t.Fatal("expected CAS to succeed with the correct expected step/timestamp")
	}
}

func TestMemoryCheckpointFeedbackUpsert(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	fb := storymodel.CheckpointFeedback{
		UserID: "user-1", StoryID: "story-4", Checkpoint: storymodel.CheckpointChapter2,
		Kind: storymodel.FeedbackDimension,
		Dimension: &storymodel.DimensionFeedback{Pacing: "slow", Tone: "serious", Character: "love"},
	}
	if err := m.UpsertCheckpointFeedback(ctx, fb); err != nil {
		t.Fatalf("UpsertCheckpointFeedback: %v", err)
	}

	fb.Dimension.Pacing = "hooked"
	if err := m.UpsertCheckpointFeedback(ctx, fb); err != nil {
		t.Fatalf("UpsertCheckpointFeedback (update): %v", err)
	}

	got, ok, err := m.GetCheckpointFeedback(ctx, "story-4", storymodel.CheckpointChapter2)
	if err != nil || !ok {
		t.Fatalf("GetCheckpointFeedback: ok=%v err=%v", ok, err)
	}
	if got.Dimension.Pacing != "hooked" {
		t.Errorf("expected upsert to overwrite, got pacing=%s", got.Dimension.Pacing)
	}

	all, err := m.ListCheckpointFeedback(ctx, "story-4")
	if err != nil || len(all) != 1 {
		t.Errorf("ListCheckpointFeedback = %d rows, %v, want 1 row (upsert, not append)", len(all), err)
	}
}

func TestMemoryListStalledStories(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	fresh := newTestStory("fresh")
	m.stories[fresh.ID] = fresh

	stale := newTestStory("stale")
	stale.Progress.LastUpdated = time.Now().Add(-2 * time.Hour)
	m.stories[stale.ID] = stale

	awaiting := newTestStory("awaiting")
	awaiting.Progress.CurrentStep = storymodel.StepAwaitingChapter2Feedback
	awaiting.Progress.LastUpdated = time.Now().Add(-2 * time.Hour)
	m.stories[awaiting.ID] = awaiting

	failed := newTestStory("failed")
	failed.Progress.CurrentStep = storymodel.StepPermanentlyFailed
	failed.Progress.LastUpdated = time.Now().Add(-2 * time.Hour)
	m.stories[failed.ID] = failed

	stalled, err := m.ListStalledStories(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListStalledStories: %v", err)
	}
	if len(stalled) != 1 || stalled[0].ID != "stale" {
		t.Errorf("ListStalledStories = %+v, want only [stale]", stalled)
	}
}
