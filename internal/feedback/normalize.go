// Package feedback ingests checkpoint feedback: it normalizes legacy
// checkpoint names, upserts the feedback row, and advances the story past
// the feedback gate it unblocks.
package feedback

import "github.com/fablepress/storyforge/internal/storymodel"

// legacyCheckpoints maps the old per-chapter checkpoint names (from before
// feedback gates were consolidated to the end of each three-chapter batch)
// to the canonical checkpoint they now correspond to.
var legacyCheckpoints = map[storymodel.Checkpoint]storymodel.Checkpoint{
	"chapter_3": storymodel.CheckpointChapter2,
	"chapter_6": storymodel.CheckpointChapter5,
	"chapter_9": storymodel.CheckpointChapter8,
}

// Normalize maps a legacy checkpoint name to its canonical equivalent.
// Already-canonical names, and CheckpointLibraryExit, pass through
// unchanged. Normalize is idempotent: normalizing an already-canonical
// name returns it unchanged.
func Normalize(checkpoint storymodel.Checkpoint) storymodel.Checkpoint {
	if canonical, ok := legacyCheckpoints[checkpoint]; ok {
		return canonical
	}
	return checkpoint
}
