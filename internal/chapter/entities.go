package chapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/fablepress/storyforge/internal/bookerr"
	"github.com/fablepress/storyforge/internal/llm"
	"github.com/fablepress/storyforge/internal/storymodel"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var entityExtractionSchema *jsonschema.Schema

func init() {
	schema, err := llm.CompileSchema("chapter_entities.json", []byte(`{
		"type": "object",
		"required": ["entities"],
		"properties": {
			"entities": {
				"type": "array",
				"maxItems": 50,
				"items": {
					"type": "object",
					"required": ["entity_type", "entity_name", "fact"],
					"properties": {
						"entity_type": {"type": "string", "enum": ["character", "location", "world_rule", "timeline", "plot_thread"]},
						"entity_name": {"type": "string"},
						"fact": {"type": "string"},
						"source_quote": {"type": "string"}
					}
				}
			}
		}
	}`))
	if err != nil {
		panic("chapter: invalid entity extraction schema: " + err.Error())
	}
	entityExtractionSchema = schema
}

// ExtractedEntity is one fact extracted from a committed chapter, prior to
// being assigned its owning chapter and story ids.
type ExtractedEntity struct {
	EntityType  storymodel.EntityType `json:"entity_type"`
	EntityName  string                `json:"entity_name"`
	Fact        string                `json:"fact"`
	SourceQuote string                `json:"source_quote,omitempty"`
}

// ExtractEntities runs a separate LLM pass over a committed chapter to pull
// up to 50 entities and facts for the consistency ledgers (§4.4).
func ExtractEntities(ctx context.Context, gateway llm.Gateway, model string, chapterText string) ([]ExtractedEntity, llm.Completion, error) {
	prompt := buildEntityExtractionPrompt(chapterText)

	completion, err := gateway.Complete(ctx, model, prompt, 4096)
	if err != nil {
		return nil, completion, bookerr.New(bookerr.ModelTransient, "entity_extraction", err)
	}

	var parsed struct {
		Entities []ExtractedEntity `json:"entities"`
	}
	if err := llm.DecodeJSON(completion.Text, entityExtractionSchema, []string{"entities"}, &parsed); err != nil {
		return nil, completion, bookerr.New(bookerr.ModelMalformed, "entity_extraction", err)
	}
	return parsed.Entities, completion, nil
}

// ToChapterEntities attaches chapter/story identity to each extracted
// entity, marking every row consistent until the revision pass says
// otherwise.
func ToChapterEntities(entities []ExtractedEntity, chapterID, storyID string, chapterNumber int) []storymodel.ChapterEntity {
	rows := make([]storymodel.ChapterEntity, len(entities))
	for i, e := range entities {
		rows[i] = storymodel.ChapterEntity{
			ChapterID:     chapterID,
			StoryID:       storyID,
			ChapterNumber: chapterNumber,
			EntityType:    e.EntityType,
			EntityName:    e.EntityName,
			Fact:          e.Fact,
			SourceQuote:   e.SourceQuote,
			IsConsistent:  true,
		}
	}
	return rows
}

// ToLedgerEntries splits extracted entities into character-ledger and
// world-state-ledger rows, keyed by entity type.
func ToLedgerEntries(entities []ExtractedEntity, storyID string, chapterNumber int) (character, worldState storymodel.LedgerEntry) {
	characterData := map[string]any{}
	worldData := map[string]any{}
	for _, e := range entities {
		switch e.EntityType {
		case storymodel.EntityCharacter:
			characterData[e.EntityName] = e.Fact
		default:
			worldData[string(e.EntityType)+":"+e.EntityName] = e.Fact
		}
	}
	character = storymodel.LedgerEntry{StoryID: storyID, ChapterNumber: chapterNumber, Data: characterData}
	worldState = storymodel.LedgerEntry{StoryID: storyID, ChapterNumber: chapterNumber, Data: worldData}
	return character, worldState
}

func buildEntityExtractionPrompt(chapterText string) string {
	var b strings.Builder
	b.WriteString("Extract every character, location, world rule, timeline marker, and plot thread fact introduced or reinforced in this chapter.\n\n")
	b.WriteString(chapterText)
	fmt.Fprintf(&b, "\n\nRespond with a single JSON object: {\"entities\": [{\"entity_type\": one of character|location|world_rule|timeline|plot_thread, \"entity_name\": ..., \"fact\": ..., \"source_quote\": ...}, ...]}, at most 50 entries. Respond with JSON only, no markdown fences.")
	return b.String()
}
