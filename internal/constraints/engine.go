// Package constraints implements the Pass-1 extractor and Pass-3 validator
// of the three-pass chapter generation pipeline (§4.3).
package constraints

import (
	"context"
	"fmt"
	"strings"

	"github.com/fablepress/storyforge/internal/bookerr"
	"github.com/fablepress/storyforge/internal/llm"
	"github.com/fablepress/storyforge/internal/storymodel"
)

// Engine runs extraction and validation against an LLM gateway.
type Engine struct {
	gateway llm.Gateway
	model   string
}

// New returns an Engine that uses model for both extraction and validation
// calls.
func New(gateway llm.Gateway, model string) *Engine {
	return &Engine{gateway: gateway, model: model}
}

// ExtractionInput is everything Pass-1 reads to derive constraints for one
// chapter.
type ExtractionInput struct {
	Outline          storymodel.ChapterOutline
	PriorKeyEvents   [][]string
	RecentWorldState []storymodel.LedgerEntry
	RecentCharacters []storymodel.LedgerEntry
}

// Extract runs Pass 1: deriving must/must_not/should constraints from the
// chapter outline, prior chapters' key events, and recent ledger entries.
func (e *Engine) Extract(ctx context.Context, in ExtractionInput) (storymodel.ConstraintSet, llm.Completion, error) {
	prompt := buildExtractionPrompt(in)

	completion, err := e.gateway.Complete(ctx, e.model, prompt, 2048)
	if err != nil {
		return storymodel.ConstraintSet{}, completion, bookerr.New(bookerr.ModelTransient, "constraint_extraction", err)
	}

	var set storymodel.ConstraintSet
	if err := llm.DecodeJSON(completion.Text, extractionSchema, []string{"must", "must_not", "should"}, &set); err != nil {
		return storymodel.ConstraintSet{}, completion, bookerr.New(bookerr.ModelMalformed, "constraint_extraction", err)
	}
	return set, completion, nil
}

// Validate runs Pass 3: re-reading the generated chapter against the Pass-1
// constraint set and issuing a PASS/FAIL verdict with evidence quotes.
func (e *Engine) Validate(ctx context.Context, chapterText string, set storymodel.ConstraintSet) (storymodel.ConstraintValidation, llm.Completion, error) {
	prompt := buildValidationPrompt(chapterText, set)

	completion, err := e.gateway.Complete(ctx, e.model, prompt, 2048)
	if err != nil {
		return storymodel.ConstraintValidation{}, completion, bookerr.New(bookerr.ModelTransient, "constraint_validation", err)
	}

	var result storymodel.ConstraintValidation
	if err := llm.DecodeJSON(completion.Text, validationSchema, []string{"verdict", "must_checks", "must_not_checks"}, &result); err != nil {
		return storymodel.ConstraintValidation{}, completion, bookerr.New(bookerr.ModelMalformed, "constraint_validation", err)
	}

	// The verdict is derived from the checks, not trusted from the model
	// verbatim: §4.3 defines PASS as "every must DELIVERED and every
	// must_not CLEAR", so recompute it rather than propagate a model error.
	if result.AllDelivered() && result.AllClear() {
		result.Verdict = storymodel.VerdictPass
	} else {
		result.Verdict = storymodel.VerdictFail
	}
	return result, completion, nil
}

func buildExtractionPrompt(in ExtractionInput) string {
	var b strings.Builder
	b.WriteString("You are extracting hard and soft constraints for the next chapter of a serialized novel.\n\n")
	fmt.Fprintf(&b, "Chapter outline:\nTitle: %s\nEvents summary: %s\nKey revelations: %s\nEmotional arc: %s\nCharacter focus: %s\nTension level: %d\nChapter hook: %s\n\n",
		in.Outline.Title, in.Outline.EventsSummary, strings.Join(in.Outline.KeyRevelations, "; "),
		in.Outline.EmotionalArc, strings.Join(in.Outline.CharacterFocus, ", "), in.Outline.TensionLevel, in.Outline.ChapterHook)

	b.WriteString("Previously established key events:\n")
	for i, events := range in.PriorKeyEvents {
		fmt.Fprintf(&b, "Chapter %d: %s\n", i+1, strings.Join(events, "; "))
	}

	b.WriteString("\nRecent world-state ledger entries:\n")
	for _, e := range in.RecentWorldState {
		fmt.Fprintf(&b, "- chapter %d: %v\n", e.ChapterNumber, e.Data)
	}
	b.WriteString("\nRecent character ledger entries:\n")
	for _, e := range in.RecentCharacters {
		fmt.Fprintf(&b, "- chapter %d: %v\n", e.ChapterNumber, e.Data)
	}

	b.WriteString(`
Respond with a single JSON object with three arrays:
"must": 3-8 non-negotiable requirements derived from the outline's planned beats, each with a unique "id", a specific actionable "statement", and a "source" citation (e.g. "arc_events_summary", "arc_key_revelations").
"must_not": 2-5 contradictions to avoid, drawn from previously established facts and world rules, each with "id", "statement", "source".
"should": 2-5 soft targets (callbacks, recommended emotional beats), each with "id" and "statement".
Respond with JSON only, no markdown fences, no commentary.`)

	return b.String()
}

func buildValidationPrompt(chapterText string, set storymodel.ConstraintSet) string {
	var b strings.Builder
	b.WriteString("You are validating a generated chapter against its required constraints.\n\n")
	b.WriteString("Chapter text:\n")
	b.WriteString(chapterText)
	b.WriteString("\n\nMust-deliver requirements:\n")
	for _, m := range set.Must {
		fmt.Fprintf(&b, "- [%s] %s\n", m.ID, m.Statement)
	}
	b.WriteString("\nMust-not-violate constraints:\n")
	for _, mn := range set.MustNot {
		fmt.Fprintf(&b, "- [%s] %s\n", mn.ID, mn.Statement)
	}
	b.WriteString(`
For each must requirement, search the chapter text for evidence and mark it "DELIVERED" with a supporting quote, or "NOT_DELIVERED".
For each must_not constraint, mark it "CLEAR" or "VIOLATED" with a supporting quote if violated.
Respond with a single JSON object: {"verdict": "PASS"|"FAIL", "must_checks": [...], "must_not_checks": [...], "specific_issues": [...]}.
List any scenes or passages that should be revised in specific_issues. Respond with JSON only, no markdown fences.`)
	return b.String()
}
