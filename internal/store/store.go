// Package store is the thin typed API every generation stage reads and
// writes through. Two implementations ship: Postgres (internal/store, pgx
// pool + golang-migrate schema) and Memory (in-process, for tests and the
// CLI's --ephemeral mode).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/fablepress/storyforge/internal/storymodel"
)

// Error is the typed error every store call surfaces, classified by whether
// retrying the same call is worthwhile.
type Error struct {
	Op        string
	Err       error
	Transient bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrNotFound is returned (wrapped in Error) when a Get by key has no row.
var ErrNotFound = fmt.Errorf("not found")

// Store is the row-oriented persistent store interface.
type Store interface {
	CreatePremiseSet(ctx context.Context, set storymodel.PremiseSet) error
	GetPremiseSet(ctx context.Context, id string) (storymodel.PremiseSet, error)
	DiscardPremiseSet(ctx context.Context, id string) error

	CreateStory(ctx context.Context, s storymodel.Story) error
	GetStory(ctx context.Context, id string) (storymodel.Story, error)
	UpdateStory(ctx context.Context, s storymodel.Story) error

	// CompareAndSwapProgress performs a conditional update of a story's
	// generation_progress, succeeding only if the story's current_step and
	// last_updated still match what the caller last observed. This is the
	// single-writer enforcement mechanism described in §5: the orchestrator
	// and the sweeper both call this before advancing a story, and a stale
	// last_updated means "someone else owns this."
	CompareAndSwapProgress(ctx context.Context, storyID string, expectedStep storymodel.Step, expectedUpdatedAt time.Time, next storymodel.GenerationProgress) (bool, error)

	PutBible(ctx context.Context, b storymodel.Bible) error
	GetBible(ctx context.Context, storyID string) (storymodel.Bible, error)

	PutArc(ctx context.Context, a storymodel.Arc) error
	GetArc(ctx context.Context, storyID string) (storymodel.Arc, error)

	// CommitChapter atomically inserts the chapter row and advances
	// generation_progress. Both commit or neither does — this is the
	// atomic pair required by §4.1 so the sweeper never observes a chapter
	// without its corresponding progress update, or vice versa.
	CommitChapter(ctx context.Context, ch storymodel.Chapter, next storymodel.GenerationProgress) error
	GetChapter(ctx context.Context, storyID string, chapterNumber int) (storymodel.Chapter, bool, error)
	ListChapters(ctx context.Context, storyID string, start, end int) ([]storymodel.Chapter, error)
	CountChapters(ctx context.Context, storyID string) (int, error)
	ReplaceChapterContent(ctx context.Context, chapterID string, content string, wordCount int) error

	PutChapterEntities(ctx context.Context, entities []storymodel.ChapterEntity) error
	AppendCharacterLedger(ctx context.Context, entry storymodel.LedgerEntry) error
	AppendWorldStateLedger(ctx context.Context, entry storymodel.LedgerEntry) error
	ListCharacterLedger(ctx context.Context, storyID string) ([]storymodel.LedgerEntry, error)
	ListWorldStateLedger(ctx context.Context, storyID string) ([]storymodel.LedgerEntry, error)

	UpsertCheckpointFeedback(ctx context.Context, fb storymodel.CheckpointFeedback) error
	GetCheckpointFeedback(ctx context.Context, storyID string, checkpoint storymodel.Checkpoint) (storymodel.CheckpointFeedback, bool, error)
	ListCheckpointFeedback(ctx context.Context, storyID string) ([]storymodel.CheckpointFeedback, error)

	PutValidationResult(ctx context.Context, result storymodel.ValidationResult) error

	AppendCostEntry(ctx context.Context, entry storymodel.CostEntry) error

	// ListStalledStories finds sweeper candidates: stories in error/failed
	// status, or stuck in a generating_* step whose last_updated is older
	// than staleBefore, excluding permanently_failed and awaiting_*_feedback.
	ListStalledStories(ctx context.Context, staleBefore time.Time) ([]storymodel.Story, error)
}
