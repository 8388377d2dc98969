package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/fablepress/storyforge/internal/bookerr"
	"github.com/fablepress/storyforge/internal/llm"
	"github.com/fablepress/storyforge/internal/storymodel"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var arcSchema *jsonschema.Schema

func init() {
	schema, err := llm.CompileSchema("arc.json", []byte(`{
		"type": "object",
		"required": ["chapters"],
		"properties": {
			"chapters": {
				"type": "array",
				"minItems": 12,
				"maxItems": 12,
				"items": {
					"type": "object",
					"required": ["chapter_number", "title", "events_summary", "tension_level", "word_count_target"],
					"properties": {
						"chapter_number": {"type": "integer", "minimum": 1, "maximum": 12},
						"title": {"type": "string"},
						"events_summary": {"type": "string"},
						"character_focus": {"type": "array", "items": {"type": "string"}},
						"tension_level": {"type": "integer"},
						"word_count_target": {"type": "integer"},
						"key_revelations": {"type": "array", "items": {"type": "string"}},
						"emotional_arc": {"type": "string"},
						"chapter_hook": {"type": "string"}
					}
				}
			}
		}
	}`))
	if err != nil {
		panic("orchestrator: invalid arc schema: " + err.Error())
	}
	arcSchema = schema
}

// GenerateArc runs the LLM pass that plans the ordered 12-chapter outline
// for a story, once its bible is committed.
func GenerateArc(ctx context.Context, gateway llm.Gateway, model string, storyID string, bible storymodel.Bible, wordBand [2]int) (storymodel.Arc, llm.Completion, error) {
	prompt := buildArcPrompt(bible, wordBand)

	completion, err := gateway.Complete(ctx, model, prompt, 4096)
	if err != nil {
		return storymodel.Arc{}, completion, bookerr.New(bookerr.ModelTransient, "arc_generation", err)
	}

	var parsed struct {
		Chapters []storymodel.ChapterOutline `json:"chapters"`
	}
	if err := llm.DecodeJSON(completion.Text, arcSchema, []string{"chapters"}, &parsed); err != nil {
		return storymodel.Arc{}, completion, bookerr.New(bookerr.ModelMalformed, "arc_generation", err)
	}
	if len(parsed.Chapters) != 12 {
		return storymodel.Arc{}, completion, bookerr.New(bookerr.ModelMalformed, "arc_generation",
			fmt.Errorf("expected 12 chapter outlines, got %d", len(parsed.Chapters)))
	}

	var seen [13]bool
	arc := storymodel.Arc{StoryID: storyID, ArcNumber: 1}
	for _, outline := range parsed.Chapters {
		if outline.ChapterNumber < 1 || outline.ChapterNumber > 12 {
			return storymodel.Arc{}, completion, bookerr.New(bookerr.ModelMalformed, "arc_generation",
				fmt.Errorf("chapter_number %d out of range", outline.ChapterNumber))
		}
		if seen[outline.ChapterNumber] {
			return storymodel.Arc{}, completion, bookerr.New(bookerr.ModelMalformed, "arc_generation",
				fmt.Errorf("chapter_number %d appears more than once", outline.ChapterNumber))
		}
		seen[outline.ChapterNumber] = true
		arc.Chapters[outline.ChapterNumber-1] = outline
	}
	return arc, completion, nil
}

func buildArcPrompt(bible storymodel.Bible, wordBand [2]int) string {
	var b strings.Builder
	b.WriteString("Plan the ordered twelve-chapter outline for this story bible.\n\n")
	fmt.Fprintf(&b, "Protagonist: %s (%s). Antagonist: %s. Central conflict: %s. Stakes: %s.\n",
		bible.Protagonist.Name, bible.Protagonist.Goals, bible.Antagonist.Name, bible.CentralConflict, bible.Stakes)
	fmt.Fprintf(&b, "World rules: %s\nThemes: %s\n\n", strings.Join(bible.WorldRules, "; "), strings.Join(bible.Themes, ", "))
	fmt.Fprintf(&b, "Target word count per chapter: %d-%d words.\n\n", wordBand[0], wordBand[1])
	b.WriteString(`Respond with a single JSON object: {"chapters": [{"chapter_number": 1-12, "title", "events_summary", "character_focus": [...], "tension_level": 1-10, "word_count_target": int, "key_revelations": [...], "emotional_arc", "chapter_hook"}, ... exactly 12 entries, chapter_number a permutation of 1..12]}. Respond with JSON only, no markdown fences.`)
	return b.String()
}
