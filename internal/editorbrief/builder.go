// Package editorbrief turns reader checkpoint feedback into revised chapter
// outlines and a style exemplar for the next batch (§4.5).
package editorbrief

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fablepress/storyforge/internal/llm"
	"github.com/fablepress/storyforge/internal/storymodel"
)

// Builder assembles an EditorBrief from a story's feedback history.
type Builder struct {
	gateway llm.Gateway
	model   string
	logger  *slog.Logger
}

// New returns a Builder that queries gateway with model for revision text.
func New(gateway llm.Gateway, model string, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{gateway: gateway, model: model, logger: logger.With("component", "editorbrief")}
}

// Build returns nil when the most recent feedback is entirely
// neutral/positive — no corrections are needed. Otherwise it prompts the
// LLM for revised outlines and a style exemplar. On parse failure it logs
// and returns nil rather than block the batch. The returned Completion is
// the zero value whenever no LLM call was actually made.
func (b *Builder) Build(ctx context.Context, history []storymodel.CheckpointFeedback, outlines []storymodel.ChapterOutline) (*storymodel.EditorBrief, llm.Completion) {
	if len(history) == 0 {
		return nil, llm.Completion{}
	}
	latest := history[len(history)-1]
	if latest.Positive() {
		return nil, llm.Completion{}
	}

	prompt := buildBriefPrompt(history, outlines)
	completion, err := b.gateway.Complete(ctx, b.model, prompt, 4096)
	if err != nil {
		b.logger.Warn("editor brief generation failed, proceeding without corrections", "error", err)
		return nil, llm.Completion{}
	}

	brief, err := parseBrief(completion.Text)
	if err != nil {
		b.logger.Warn("editor brief parse failed, proceeding without corrections", "error", err)
		return nil, completion
	}
	return brief, completion
}

func buildBriefPrompt(history []storymodel.CheckpointFeedback, outlines []storymodel.ChapterOutline) string {
	var b strings.Builder
	b.WriteString("A reader has given feedback on this serialized novel. Revise the upcoming chapter outlines to address it.\n\n")

	b.WriteString("Feedback history:\n")
	for _, f := range history {
		switch f.Kind {
		case storymodel.FeedbackDimension:
			fmt.Fprintf(&b, "- checkpoint %s: pacing=%s, tone=%s, character=%s\n", f.Checkpoint, f.Dimension.Pacing, f.Dimension.Tone, f.Dimension.Character)
		case storymodel.FeedbackFreeForm:
			fmt.Fprintf(&b, "- checkpoint %s free-form: %s\n", f.Checkpoint, f.FreeForm.Text)
		case storymodel.FeedbackVoiceInterview:
			fmt.Fprintf(&b, "- checkpoint %s voice interview: %s\n", f.Checkpoint, f.Voice.Transcript)
		}
	}

	b.WriteString("\nUpcoming chapter outlines:\n")
	for _, o := range outlines {
		fmt.Fprintf(&b, "Chapter %d (%s): %s\n", o.ChapterNumber, o.Title, o.EventsSummary)
	}

	b.WriteString(`
Respond with an XML document of the form:
<brief>
  <revised_outline chapter="N">
    <events_summary>rewritten events summary</events_summary>
    <editor_notes>specific characters and beats to change</editor_notes>
  </revised_outline>
  ...one per chapter above...
  <style_example>an 80-120 word prose passage using the protagonist's name, demonstrating the corrected voice</style_example>
</brief>
Respond with XML only, no markdown fences, no commentary.`)
	return b.String()
}

func parseBrief(raw string) (*storymodel.EditorBrief, error) {
	doc, err := llm.ExtractXMLRoot(raw, "brief")
	if err != nil {
		return nil, err
	}

	revised, err := parseRevisedOutlines(doc)
	if err != nil {
		return nil, err
	}
	styleExample := extractTag(doc, "style_example")

	return &storymodel.EditorBrief{
		RevisedOutlines: revised,
		StyleExample:    strings.TrimSpace(styleExample),
	}, nil
}
