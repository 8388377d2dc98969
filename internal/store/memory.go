package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fablepress/storyforge/internal/storymodel"
)

// Memory is an in-process, mutex-guarded Store used by unit tests and the
// CLI's --ephemeral mode.
type Memory struct {
	mu sync.Mutex

	premiseSets map[string]storymodel.PremiseSet
	stories     map[string]storymodel.Story
	bibles      map[string]storymodel.Bible
	arcs        map[string]storymodel.Arc
	chapters    map[string]map[int]storymodel.Chapter
	entities    map[string][]storymodel.ChapterEntity
	charLedger  map[string][]storymodel.LedgerEntry
	worldLedger map[string][]storymodel.LedgerEntry
	feedback    map[string]map[storymodel.Checkpoint]storymodel.CheckpointFeedback
	validations map[string]storymodel.ValidationResult
	costs       []storymodel.CostEntry
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		premiseSets: make(map[string]storymodel.PremiseSet),
		stories:     make(map[string]storymodel.Story),
		bibles:      make(map[string]storymodel.Bible),
		arcs:        make(map[string]storymodel.Arc),
		chapters:    make(map[string]map[int]storymodel.Chapter),
		entities:    make(map[string][]storymodel.ChapterEntity),
		charLedger:  make(map[string][]storymodel.LedgerEntry),
		worldLedger: make(map[string][]storymodel.LedgerEntry),
		feedback:    make(map[string]map[storymodel.Checkpoint]storymodel.CheckpointFeedback),
		validations: make(map[string]storymodel.ValidationResult),
	}
}

func (m *Memory) CreatePremiseSet(ctx context.Context, set storymodel.PremiseSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.premiseSets[set.ID] = set
	return nil
}

func (m *Memory) GetPremiseSet(ctx context.Context, id string) (storymodel.PremiseSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.premiseSets[id]
	if !ok {
		return storymodel.PremiseSet{}, &Error{Op: "GetPremiseSet", Err: ErrNotFound}
	}
	return set, nil
}

func (m *Memory) DiscardPremiseSet(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.premiseSets[id]
	if !ok {
		return &Error{Op: "DiscardPremiseSet", Err: ErrNotFound}
	}
	set.Discarded = true
	m.premiseSets[id] = set
	return nil
}

func (m *Memory) CreateStory(ctx context.Context, s storymodel.Story) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.stories[s.ID]; exists {
		return &Error{Op: "CreateStory", Err: ErrNotFound, Transient: false}
	}
	m.stories[s.ID] = s
	return nil
}

func (m *Memory) GetStory(ctx context.Context, id string) (storymodel.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stories[id]
	if !ok {
		return storymodel.Story{}, &Error{Op: "GetStory", Err: ErrNotFound}
	}
	return s, nil
}

func (m *Memory) UpdateStory(ctx context.Context, s storymodel.Story) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stories[s.ID]; !ok {
		return &Error{Op: "UpdateStory", Err: ErrNotFound}
	}
	m.stories[s.ID] = s
	return nil
}

func (m *Memory) CompareAndSwapProgress(ctx context.Context, storyID string, expectedStep storymodel.Step, expectedUpdatedAt time.Time, next storymodel.GenerationProgress) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stories[storyID]
	if !ok {
		return false, &Error{Op: "CompareAndSwapProgress", Err: ErrNotFound}
	}
	if s.Progress.CurrentStep != expectedStep || !s.Progress.LastUpdated.Equal(expectedUpdatedAt) {
		return false, nil
	}
	s.Progress = next
	s.UpdatedAt = next.LastUpdated
	m.stories[storyID] = s
	return true, nil
}

func (m *Memory) PutBible(ctx context.Context, b storymodel.Bible) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bibles[b.StoryID] = b
	return nil
}

func (m *Memory) GetBible(ctx context.Context, storyID string) (storymodel.Bible, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bibles[storyID]
	if !ok {
		return storymodel.Bible{}, &Error{Op: "GetBible", Err: ErrNotFound}
	}
	return b, nil
}

func (m *Memory) PutArc(ctx context.Context, a storymodel.Arc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.arcs[a.StoryID] = a
	return nil
}

func (m *Memory) GetArc(ctx context.Context, storyID string) (storymodel.Arc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.arcs[storyID]
	if !ok {
		return storymodel.Arc{}, &Error{Op: "GetArc", Err: ErrNotFound}
	}
	return a, nil
}

func (m *Memory) CommitChapter(ctx context.Context, ch storymodel.Chapter, next storymodel.GenerationProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stories[ch.StoryID]
	if !ok {
		return &Error{Op: "CommitChapter", Err: ErrNotFound}
	}
	if m.chapters[ch.StoryID] == nil {
		m.chapters[ch.StoryID] = make(map[int]storymodel.Chapter)
	}
	if _, exists := m.chapters[ch.StoryID][ch.ChapterNumber]; exists {
		return &Error{Op: "CommitChapter", Err: ErrAlreadyCommitted}
	}
	m.chapters[ch.StoryID][ch.ChapterNumber] = ch
	s.Progress = next
	s.UpdatedAt = next.LastUpdated
	m.stories[ch.StoryID] = s
	return nil
}

// ErrAlreadyCommitted guards the at-most-one-commit-per-slot invariant.
var ErrAlreadyCommitted = &staticErr{"chapter already committed"}

type staticErr struct{ msg string }

func (e *staticErr) Error() string { return e.msg }

func (m *Memory) GetChapter(ctx context.Context, storyID string, chapterNumber int) (storymodel.Chapter, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.chapters[storyID][chapterNumber]
	return ch, ok, nil
}

func (m *Memory) ListChapters(ctx context.Context, storyID string, start, end int) ([]storymodel.Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storymodel.Chapter
	for n := start; n <= end; n++ {
		if ch, ok := m.chapters[storyID][n]; ok {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (m *Memory) CountChapters(ctx context.Context, storyID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chapters[storyID]), nil
}

func (m *Memory) ReplaceChapterContent(ctx context.Context, chapterID string, content string, wordCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for storyID, byNum := range m.chapters {
		for n, ch := range byNum {
			if ch.ID == chapterID {
				ch.Content = content
				ch.WordCount = wordCount
				m.chapters[storyID][n] = ch
				return nil
			}
		}
	}
	return &Error{Op: "ReplaceChapterContent", Err: ErrNotFound}
}

func (m *Memory) PutChapterEntities(ctx context.Context, entities []storymodel.ChapterEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entities {
		m.entities[e.StoryID] = append(m.entities[e.StoryID], e)
	}
	return nil
}

func (m *Memory) AppendCharacterLedger(ctx context.Context, entry storymodel.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.charLedger[entry.StoryID] = append(m.charLedger[entry.StoryID], entry)
	return nil
}

func (m *Memory) AppendWorldStateLedger(ctx context.Context, entry storymodel.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.worldLedger[entry.StoryID] = append(m.worldLedger[entry.StoryID], entry)
	return nil
}

func (m *Memory) ListCharacterLedger(ctx context.Context, storyID string) ([]storymodel.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storymodel.LedgerEntry(nil), m.charLedger[storyID]...), nil
}

func (m *Memory) ListWorldStateLedger(ctx context.Context, storyID string) ([]storymodel.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storymodel.LedgerEntry(nil), m.worldLedger[storyID]...), nil
}

func (m *Memory) UpsertCheckpointFeedback(ctx context.Context, fb storymodel.CheckpointFeedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.feedback[fb.StoryID] == nil {
		m.feedback[fb.StoryID] = make(map[storymodel.Checkpoint]storymodel.CheckpointFeedback)
	}
	m.feedback[fb.StoryID][fb.Checkpoint] = fb
	return nil
}

func (m *Memory) GetCheckpointFeedback(ctx context.Context, storyID string, checkpoint storymodel.Checkpoint) (storymodel.CheckpointFeedback, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fb, ok := m.feedback[storyID][checkpoint]
	return fb, ok, nil
}

func (m *Memory) ListCheckpointFeedback(ctx context.Context, storyID string) ([]storymodel.CheckpointFeedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storymodel.CheckpointFeedback
	for _, fb := range m.feedback[storyID] {
		out = append(out, fb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) PutValidationResult(ctx context.Context, result storymodel.ValidationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validations[result.ChapterID] = result
	return nil
}

func (m *Memory) AppendCostEntry(ctx context.Context, entry storymodel.CostEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.costs = append(m.costs, entry)
	return nil
}

func (m *Memory) ListStalledStories(ctx context.Context, staleBefore time.Time) ([]storymodel.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storymodel.Story
	for _, s := range m.stories {
		if s.Progress.CurrentStep == storymodel.StepPermanentlyFailed {
			continue
		}
		if s.Progress.CurrentStep.IsAwaitingFeedback() {
			continue
		}
		stalled := s.Status == storymodel.StatusError ||
			(s.Progress.CurrentStep.IsGenerating() && s.Progress.LastUpdated.Before(staleBefore))
		if stalled {
			out = append(out, s)
		}
	}
	return out, nil
}
