package editorbrief

import (
	"context"
	"log/slog"
	"testing"

	"github.com/fablepress/storyforge/internal/llm"
	"github.com/fablepress/storyforge/internal/storymodel"
)

type fakeGateway struct {
	response string
	err      error
}

func (f *fakeGateway) Complete(ctx context.Context, model, prompt string, maxTokens int) (llm.Completion, error) {
	if f.err != nil {
		return llm.Completion{}, f.err
	}
	return llm.Completion{Text: f.response}, nil
}

func TestBuildReturnsNilWhenFeedbackPositive(t *testing.T) {
	b := New(&fakeGateway{}, "claude-3-5-sonnet-20241022", slog.Default())
	history := []storymodel.CheckpointFeedback{
		{
			Kind: storymodel.FeedbackDimension,
			Dimension: &storymodel.DimensionFeedback{
				Pacing: storymodel.PacingHooked, Tone: storymodel.ToneRight, Character: storymodel.CharacterLove,
			},
		},
	}
	brief, _ := b.Build(context.Background(), history, nil)
	if brief != nil {
		t.Errorf("Build = %+v, want nil for all-positive feedback", brief)
	}
}

func TestBuildParsesRevisedOutlines(t *testing.T) {
	gw := &fakeGateway{response: "```xml\n" + `<brief>
  <revised_outline chapter="4">
    <events_summary>Mara confronts Voss sooner, with higher stakes</events_summary>
    <editor_notes>slow down the reveal, give Mara an internal beat</editor_notes>
  </revised_outline>
  <revised_outline chapter="5">
    <events_summary>the aftermath plays out over a full scene</events_summary>
    <editor_notes>show Voss's reaction in detail</editor_notes>
  </revised_outline>
  <style_example>Mara pressed her palm to the cold stone, counting her breaths the way her mother taught her, until the ringing in her ears softened into something she could carry.</style_example>
</brief>` + "\n```"}

	b := New(gw, "claude-3-5-sonnet-20241022", slog.Default())
	history := []storymodel.CheckpointFeedback{
		{
			Kind: storymodel.FeedbackDimension,
			Dimension: &storymodel.DimensionFeedback{
				Pacing: "rushed", Tone: storymodel.ToneRight, Character: storymodel.CharacterLove,
			},
		},
	}
	outlines := []storymodel.ChapterOutline{{ChapterNumber: 4}, {ChapterNumber: 5}}

	brief, completion := b.Build(context.Background(), history, outlines)
	if brief == nil {
		t.Fatal("Build = nil, want a brief for rushed pacing feedback")
	}
	if len(brief.RevisedOutlines) != 2 {
		t.Fatalf("RevisedOutlines = %+v, want 2 entries", brief.RevisedOutlines)
	}
	if brief.RevisedOutlines[4].EditorNotes == "" {
		t.Error("chapter 4 EditorNotes empty")
	}
	if brief.StyleExample == "" {
		t.Error("StyleExample empty")
	}
	if completion.Text == "" {
		t.Error("Build returned a brief but a zero-value Completion")
	}
}

func TestBuildReturnsNilOnGatewayError(t *testing.T) {
	b := New(&fakeGateway{err: context.DeadlineExceeded}, "claude-3-5-sonnet-20241022", slog.Default())
	history := []storymodel.CheckpointFeedback{
		{Kind: storymodel.FeedbackFreeForm, FreeForm: &storymodel.FreeFormFeedback{Text: "too slow"}},
	}
	brief, completion := b.Build(context.Background(), history, nil)
	if brief != nil {
		t.Errorf("Build = %+v, want nil on gateway error", brief)
	}
	if completion != (llm.Completion{}) {
		t.Errorf("Build completion = %+v, want zero value on gateway error", completion)
	}
}

func TestBuildReturnsNilOnParseFailure(t *testing.T) {
	b := New(&fakeGateway{response: "not xml at all"}, "claude-3-5-sonnet-20241022", slog.Default())
	history := []storymodel.CheckpointFeedback{
		{Kind: storymodel.FeedbackFreeForm, FreeForm: &storymodel.FreeFormFeedback{Text: "too slow"}},
	}
	brief, _ := b.Build(context.Background(), history, nil)
	if brief != nil {
		t.Errorf("Build = %+v, want nil on parse failure", brief)
	}
}
