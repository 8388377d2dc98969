// Package revision implements the post-commit entity-consistency check and
// the bounded surgical revision pass that follows a critical finding
// (§4.6). Both are intentionally non-fatal: neither ever blocks chapter
// delivery.
package revision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fablepress/storyforge/internal/bookerr"
	"github.com/fablepress/storyforge/internal/llm"
	"github.com/fablepress/storyforge/internal/storymodel"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var validationResultSchema *jsonschema.Schema

func init() {
	schema, err := llm.CompileSchema("revision_validation.json", []byte(`{
		"type": "object",
		"required": ["issues"],
		"properties": {
			"issues": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["severity", "description"],
					"properties": {
						"severity": {"type": "string", "enum": ["none", "minor", "critical"]},
						"description": {"type": "string"},
						"span": {"type": "string"}
					}
				}
			}
		}
	}`))
	if err != nil {
		panic("revision: invalid validation schema: " + err.Error())
	}
	validationResultSchema = schema
}

// Validator re-reads a committed chapter against the bible and the
// accumulated entity ledger, flagging character/world/plot inconsistencies.
type Validator struct {
	gateway llm.Gateway
	model   string
	logger  *slog.Logger
}

// NewValidator returns a Validator driven by gateway using model.
func NewValidator(gateway llm.Gateway, model string, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{gateway: gateway, model: model, logger: logger.With("component", "revision_validator")}
}

// Check runs the consistency pass over chapterText and returns the findings
// plus the completion that produced them. A gateway or parse failure
// degrades to an empty (SeverityNone) result rather than propagate an
// error, per §4.6's non-fatal posture; the returned Completion is the zero
// value when the gateway call itself never succeeded.
func (v *Validator) Check(ctx context.Context, chapterID string, bible storymodel.Bible, priorEntities []storymodel.ChapterEntity, chapterText string) (storymodel.ValidationResult, llm.Completion) {
	prompt := buildValidationPrompt(bible, priorEntities, chapterText)

	completion, err := v.gateway.Complete(ctx, v.model, prompt, 2048)
	if err != nil {
		v.logger.Warn("consistency check failed, treating chapter as clean", "error", err)
		return storymodel.ValidationResult{ChapterID: chapterID}, llm.Completion{}
	}

	var parsed struct {
		Issues []storymodel.ValidationIssue `json:"issues"`
	}
	if err := llm.DecodeJSON(completion.Text, validationResultSchema, []string{"issues"}, &parsed); err != nil {
		v.logger.Warn("consistency check parse failed, treating chapter as clean", "error", bookerr.New(bookerr.ModelMalformed, "revision_validation", err))
		return storymodel.ValidationResult{ChapterID: chapterID}, completion
	}

	return storymodel.ValidationResult{ChapterID: chapterID, Issues: parsed.Issues}, completion
}

func buildValidationPrompt(bible storymodel.Bible, priorEntities []storymodel.ChapterEntity, chapterText string) string {
	var b strings.Builder
	b.WriteString("Check this chapter for character, world, and plot inconsistencies against the established story bible and prior facts.\n\n")
	fmt.Fprintf(&b, "Protagonist: %s. Antagonist: %s. World rules: %s.\n\n", bible.Protagonist.Name, bible.Antagonist.Name, strings.Join(bible.WorldRules, "; "))

	b.WriteString("Previously established facts:\n")
	for _, e := range priorEntities {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", e.EntityType, e.EntityName, e.Fact)
	}

	b.WriteString("\nChapter text:\n")
	b.WriteString(chapterText)

	b.WriteString(`
Respond with a single JSON object: {"issues": [{"severity": "none"|"minor"|"critical", "description": ..., "span": "the exact text span containing the issue, if any"}]}. An empty issues array means the chapter is fully consistent. Respond with JSON only, no markdown fences.`)
	return b.String()
}
