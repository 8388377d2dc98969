package feedback

import (
	"testing"

	"github.com/fablepress/storyforge/internal/storymodel"
)

func TestNormalizeLegacyCheckpoints(t *testing.T) {
	cases := []struct {
		legacy    storymodel.Checkpoint
		canonical storymodel.Checkpoint
	}{
		{"chapter_3", storymodel.CheckpointChapter2},
		{"chapter_6", storymodel.CheckpointChapter5},
		{"chapter_9", storymodel.CheckpointChapter8},
	}
	for _, c := range cases {
		if got := Normalize(c.legacy); got != c.canonical {
			t.Errorf("Normalize(%s) = %s, want %s", c.legacy, got, c.canonical)
		}
	}
}

func TestNormalizeCanonicalNamesPassThrough(t *testing.T) {
	canonical := []storymodel.Checkpoint{
		storymodel.CheckpointChapter2,
		storymodel.CheckpointChapter5,
		storymodel.CheckpointChapter8,
		storymodel.CheckpointLibraryExit,
	}
	for _, c := range canonical {
		if got := Normalize(c); got != c {
			t.Errorf("Normalize(%s) = %s, want unchanged", c, got)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	all := []storymodel.Checkpoint{"chapter_3", "chapter_6", "chapter_9", storymodel.CheckpointChapter2, storymodel.CheckpointLibraryExit}
	for _, c := range all {
		once := Normalize(c)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %s: %s != %s", c, once, twice)
		}
	}
}
