package cost

import (
	"context"
	"testing"

	"github.com/fablepress/storyforge/internal/llm"
	"github.com/fablepress/storyforge/internal/storymodel"
)

type fakeRecorder struct {
	entries []storymodel.CostEntry
}

func (f *fakeRecorder) AppendCostEntry(ctx context.Context, entry storymodel.CostEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func TestLedgerRecord(t *testing.T) {
	rec := &fakeRecorder{}
	l := New(rec)

	err := l.Record(context.Background(), "user-1", "chapter_generation",
		llm.Completion{InputTokens: 100, OutputTokens: 50}, map[string]any{"chapter": 4})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(rec.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(rec.entries))
	}
	if rec.entries[0].InputTokens != 100 || rec.entries[0].Operation != "chapter_generation" {
		t.Errorf("entry = %+v", rec.entries[0])
	}
}
