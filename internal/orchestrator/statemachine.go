package orchestrator

import "github.com/fablepress/storyforge/internal/storymodel"

// batchGate maps the last chapter of a batch to the feedback checkpoint it
// blocks on, and the checkpoint to the first chapter of the following batch
// (§4.7's "generating_chapter_3 -> awaiting_chapter_2_feedback" and its
// symmetric cases for 6/9).
var batchGate = map[int]storymodel.Checkpoint{
	3: storymodel.CheckpointChapter2,
	6: storymodel.CheckpointChapter5,
	9: storymodel.CheckpointChapter8,
}

var awaitingStepForCheckpoint = map[storymodel.Checkpoint]storymodel.Step{
	storymodel.CheckpointChapter2: storymodel.StepAwaitingChapter2Feedback,
	storymodel.CheckpointChapter5: storymodel.StepAwaitingChapter5Feedback,
	storymodel.CheckpointChapter8: storymodel.StepAwaitingChapter8Feedback,
}

// firstChapterOfNextBatch is the chapter that resumes generation once the
// checkpoint's feedback is committed.
var firstChapterOfNextBatch = map[storymodel.Checkpoint]int{
	storymodel.CheckpointChapter2: 4,
	storymodel.CheckpointChapter5: 7,
	storymodel.CheckpointChapter8: 10,
}

// stepAfterChapterCommitted returns the next current_step once chapter n has
// been committed, following the transition table in §4.7.
func stepAfterChapterCommitted(n int) storymodel.Step {
	if checkpoint, gated := batchGate[n]; gated {
		return awaitingStepForCheckpoint[checkpoint]
	}
	if n == 12 {
		return storymodel.StepChapter12Complete
	}
	return storymodel.GeneratingChapterStep(n + 1)
}

// stepAfterFeedback returns the current_step a story should resume at once
// the given checkpoint's feedback has been committed.
func stepAfterFeedback(checkpoint storymodel.Checkpoint) storymodel.Step {
	n, ok := firstChapterOfNextBatch[checkpoint]
	if !ok {
		return storymodel.StepPermanentlyFailed
	}
	return storymodel.GeneratingChapterStep(n)
}

// batchEnd returns the last chapter number of the batch that starts at n.
func batchEnd(startChapter int) int {
	switch {
	case startChapter <= 3:
		return 3
	case startChapter <= 6:
		return 6
	case startChapter <= 9:
		return 9
	default:
		return 12
	}
}

// chapterNumberForStep returns the chapter number a generating_chapter_N
// step refers to, or 0 if step is not a chapter-generation step.
func chapterNumberForStep(step storymodel.Step) int {
	for n := 1; n <= 12; n++ {
		if storymodel.GeneratingChapterStep(n) == step {
			return n
		}
	}
	return 0
}

// The exported wrappers below let internal/feedback reuse the transition
// table without duplicating it; the ingest adapter needs to compute the
// same "what comes after this checkpoint" answer the orchestrator itself
// uses when a chapter commits normally.

// StepAfterChapterCommitted exports stepAfterChapterCommitted.
func StepAfterChapterCommitted(n int) storymodel.Step { return stepAfterChapterCommitted(n) }

// AwaitingStepForCheckpoint returns the current_step a story sits in while
// blocked on checkpoint, and whether checkpoint gates a batch at all
// (CheckpointLibraryExit does not).
func AwaitingStepForCheckpoint(checkpoint storymodel.Checkpoint) (storymodel.Step, bool) {
	step, ok := awaitingStepForCheckpoint[checkpoint]
	return step, ok
}

// FirstChapterOfNextBatch exports firstChapterOfNextBatch.
func FirstChapterOfNextBatch(checkpoint storymodel.Checkpoint) (int, bool) {
	n, ok := firstChapterOfNextBatch[checkpoint]
	return n, ok
}

// BatchEnd exports batchEnd.
func BatchEnd(startChapter int) int { return batchEnd(startChapter) }
