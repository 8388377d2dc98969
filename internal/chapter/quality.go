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

// rubric weights, fixed at the percentages named in §4.4.
var rubricWeights = map[string]float64{
	"show_dont_tell":        0.25,
	"dialogue":              0.20,
	"pacing":                0.20,
	"age_appropriateness":   0.15,
	"character_consistency": 0.10,
	"prose_quality":         0.10,
}

var qualityReviewSchema *jsonschema.Schema

func init() {
	schema, err := llm.CompileSchema("quality_review.json", []byte(`{
		"type": "object",
		"required": ["criteria"],
		"properties": {
			"criteria": {
				"type": "array",
				"minItems": 6,
				"maxItems": 6,
				"items": {
					"type": "object",
					"required": ["name", "score"],
					"properties": {
						"name": {"type": "string"},
						"score": {"type": "number", "minimum": 1, "maximum": 10},
						"evidence": {"type": "string"},
						"suggested_fix": {"type": "string"}
					}
				}
			}
		}
	}`))
	if err != nil {
		panic("chapter: invalid quality review schema: " + err.Error())
	}
	qualityReviewSchema = schema
}

// ReviewQuality runs the rubric-based LLM review over chapterText and
// computes the weighted score and pass/fail verdict.
func ReviewQuality(ctx context.Context, gateway llm.Gateway, model string, chapterText string, passThreshold float64) (storymodel.QualityReview, llm.Completion, error) {
	prompt := buildQualityPrompt(chapterText)

	completion, err := gateway.Complete(ctx, model, prompt, 2048)
	if err != nil {
		return storymodel.QualityReview{}, completion, bookerr.New(bookerr.ModelTransient, "quality_review", err)
	}

	var parsed struct {
		Criteria []storymodel.QualityCriterion `json:"criteria"`
	}
	if err := llm.DecodeJSON(completion.Text, qualityReviewSchema, []string{"criteria"}, &parsed); err != nil {
		return storymodel.QualityReview{}, completion, bookerr.New(bookerr.ModelMalformed, "quality_review", err)
	}

	var weighted float64
	for i, c := range parsed.Criteria {
		w, ok := rubricWeights[c.Name]
		if !ok {
			// Unrecognized criterion name from the model: weight it zero
			// rather than reject the whole review.
			continue
		}
		parsed.Criteria[i].Weight = w
		weighted += w * c.Score
	}

	review := storymodel.QualityReview{
		Criteria:      parsed.Criteria,
		WeightedScore: weighted,
		Pass:          weighted >= passThreshold,
	}
	return review, completion, nil
}

func buildQualityPrompt(chapterText string) string {
	var b strings.Builder
	b.WriteString("Score this chapter against six weighted rubric criteria. Score each 1-10, cite a supporting quote, and if the score is below 6 suggest a specific fix.\n\n")
	b.WriteString("Criteria (use these exact names): show_dont_tell, dialogue, pacing, age_appropriateness, character_consistency, prose_quality.\n\n")
	b.WriteString("Chapter text:\n")
	b.WriteString(chapterText)
	fmt.Fprintf(&b, "\n\nRespond with a single JSON object: {\"criteria\": [{\"name\": ..., \"score\": ..., \"evidence\": ..., \"suggested_fix\": ...}, ...]} with exactly six entries, one per criterion above. Respond with JSON only, no markdown fences.")
	return b.String()
}
