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

var bibleSchema *jsonschema.Schema

func init() {
	characterSchema := `{
		"type": "object",
		"required": ["name", "goals", "fears", "voice"],
		"properties": {
			"name": {"type": "string"},
			"goals": {"type": "string"},
			"fears": {"type": "string"},
			"voice": {"type": "string"},
			"internal_contradiction": {"type": "string"}
		}
	}`
	schema, err := llm.CompileSchema("bible.json", []byte(fmt.Sprintf(`{
		"type": "object",
		"required": ["protagonist", "antagonist", "world_rules", "central_conflict", "stakes", "themes", "key_locations"],
		"properties": {
			"protagonist": %s,
			"antagonist": %s,
			"supporting": {"type": "array", "items": %s},
			"world_rules": {"type": "array", "items": {"type": "string"}},
			"central_conflict": {"type": "string"},
			"stakes": {"type": "string"},
			"themes": {"type": "array", "items": {"type": "string"}},
			"key_locations": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["name", "sensory_details"],
					"properties": {"name": {"type": "string"}, "sensory_details": {"type": "string"}}
				}
			},
			"timeline": {"type": "string"}
		}
	}`, characterSchema, characterSchema, characterSchema)))
	if err != nil {
		panic("orchestrator: invalid bible schema: " + err.Error())
	}
	bibleSchema = schema
}

// GenerateBible runs the LLM pass that turns a selected premise into a full
// story bible: cast, world rules, conflict, stakes, and key locations.
func GenerateBible(ctx context.Context, gateway llm.Gateway, model string, storyID string, premise storymodel.Premise) (storymodel.Bible, llm.Completion, error) {
	prompt := buildBiblePrompt(premise)

	completion, err := gateway.Complete(ctx, model, prompt, 4096)
	if err != nil {
		return storymodel.Bible{}, completion, bookerr.New(bookerr.ModelTransient, "bible_generation", err)
	}

	var bible storymodel.Bible
	if err := llm.DecodeJSON(completion.Text, bibleSchema,
		[]string{"protagonist", "antagonist", "world_rules", "central_conflict", "stakes", "themes", "key_locations"}, &bible); err != nil {
		return storymodel.Bible{}, completion, bookerr.New(bookerr.ModelMalformed, "bible_generation", err)
	}
	bible.StoryID = storyID
	return bible, completion, nil
}

func buildBiblePrompt(premise storymodel.Premise) string {
	var b strings.Builder
	b.WriteString("Design a complete story bible for a twelve-chapter serialized novel from this premise.\n\n")
	fmt.Fprintf(&b, "Title: %s\nDescription: %s\nHook: %s\nGenre: %s\nThemes: %s\n\n",
		premise.Title, premise.Description, premise.Hook, premise.Genre, strings.Join(premise.Themes, ", "))
	b.WriteString(`Respond with a single JSON object: {"protagonist": {"name", "goals", "fears", "voice", "internal_contradiction"}, "antagonist": {same shape}, "supporting": [{same shape}, ...], "world_rules": [...], "central_conflict": "...", "stakes": "...", "themes": [...], "key_locations": [{"name", "sensory_details"}, ...], "timeline": "..."}. Names must be unique and used consistently. Respond with JSON only, no markdown fences.`)
	return b.String()
}
