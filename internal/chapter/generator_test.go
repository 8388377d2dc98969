package chapter

import (
	"context"
	"testing"

	"github.com/fablepress/storyforge/internal/config"
	"github.com/fablepress/storyforge/internal/constraints"
	"github.com/fablepress/storyforge/internal/llm"
	"github.com/fablepress/storyforge/internal/storymodel"
)

// scriptedGateway returns one canned response per call, in order, cycling
// back to the last response once the script is exhausted.
type scriptedGateway struct {
	responses []string
	calls     int
}

func (s *scriptedGateway) Complete(ctx context.Context, model, prompt string, maxTokens int) (llm.Completion, error) {
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++
	return llm.Completion{Text: s.responses[idx], InputTokens: 10, OutputTokens: 20}, nil
}

const validConstraintSet = `{
	"must": [
		{"id": "m1", "statement": "reveal the letter", "source": "arc_key_revelations"},
		{"id": "m2", "statement": "confront the antagonist", "source": "arc_events_summary"},
		{"id": "m3", "statement": "raise the stakes", "source": "arc_events_summary"}
	],
	"must_not": [
		{"id": "mn1", "statement": "do not kill the mentor", "source": "world_state_ledger"},
		{"id": "mn2", "statement": "do not contradict the timeline", "source": "bible"}
	],
	"should": [
		{"id": "s1", "statement": "callback to chapter 1 motif"},
		{"id": "s2", "statement": "deepen the romantic subplot"}
	]
}`

const passingQualityReview = `{"criteria": [
	{"name": "show_dont_tell", "score": 8},
	{"name": "dialogue", "score": 8},
	{"name": "pacing", "score": 8},
	{"name": "age_appropriateness", "score": 9},
	{"name": "character_consistency", "score": 8},
	{"name": "prose_quality", "score": 8}
]}`

const passingValidation = `{
	"verdict": "PASS",
	"must_checks": [
		{"id": "m1", "status": "DELIVERED", "quote": "she opened the letter"},
		{"id": "m2", "status": "DELIVERED", "quote": "she faced him"},
		{"id": "m3", "status": "DELIVERED", "quote": "the stakes rose"}
	],
	"must_not_checks": [
		{"id": "mn1", "status": "CLEAR"},
		{"id": "mn2", "status": "CLEAR"}
	]
}`

func testBible() storymodel.Bible {
	return storymodel.Bible{
		StoryID:         "story-1",
		Protagonist:     storymodel.Character{Name: "Mara", Goals: "find her sister", Fears: "the dark", Voice: "wry"},
		Antagonist:      storymodel.Character{Name: "Voss", Goals: "control the city"},
		CentralConflict: "Mara must expose Voss before the coronation",
		Stakes:          "the city falls into tyranny",
		WorldRules:      []string{"magic requires a blood price"},
	}
}

func testOutline() storymodel.ChapterOutline {
	return storymodel.ChapterOutline{
		ChapterNumber:   4,
		Title:           "The Letter",
		EventsSummary:   "Mara finds the letter and confronts Voss",
		CharacterFocus:  []string{"Mara", "Voss"},
		TensionLevel:    7,
		WordCountTarget: 2500,
		KeyRevelations:  []string{"Voss forged the treaty"},
		EmotionalArc:    "dread to resolve",
		ChapterHook:     "the coronation bells begin to ring",
	}
}

func TestGeneratorAcceptsOnFirstAttempt(t *testing.T) {
	gw := &scriptedGateway{responses: []string{
		validConstraintSet,
		"She found the letter beneath the floorboard.\n\nVoss stood waiting, smiling like he already knew.\n\nThe bells began to ring.",
		passingQualityReview,
		passingValidation,
	}}
	engine := constraints.New(gw, "claude-3-5-sonnet-20241022")
	limits := config.DefaultLimits()
	gen := New(gw, engine, "claude-3-5-sonnet-20241022", limits)

	out, err := gen.Generate(context.Background(), "story-1", GenerateInput{
		Bible:   testBible(),
		Outline: testOutline(),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Chapter.RegenerationState != storymodel.RegenAccepted {
		t.Errorf("RegenerationState = %s, want accepted", out.Chapter.RegenerationState)
	}
	if out.Chapter.RegenerationCount != 0 {
		t.Errorf("RegenerationCount = %d, want 0", out.Chapter.RegenerationCount)
	}
	if out.Chapter.WordCount == 0 {
		t.Error("WordCount = 0")
	}
	if len(out.Chapter.KeyEvents) != 3 {
		t.Errorf("KeyEvents = %v, want 3 delivered must statements", out.Chapter.KeyEvents)
	}
}

func TestGeneratorExhaustsAndCommitsBestAttempt(t *testing.T) {
	failingValidation := `{
		"verdict": "FAIL",
		"must_checks": [{"id": "m1", "status": "NOT_DELIVERED"}, {"id": "m2", "status": "NOT_DELIVERED"}, {"id": "m3", "status": "NOT_DELIVERED"}],
		"must_not_checks": [{"id": "mn1", "status": "CLEAR"}, {"id": "mn2", "status": "CLEAR"}],
		"specific_issues": ["the letter scene never appears"]
	}`

	responses := []string{validConstraintSet}
	for i := 0; i < 3; i++ {
		responses = append(responses, "Some unrelated chapter text.", passingQualityReview, failingValidation)
	}
	gw := &scriptedGateway{responses: responses}
	engine := constraints.New(gw, "claude-3-5-sonnet-20241022")
	limits := config.DefaultLimits()
	limits.MaxRegenerations = 3
	gen := New(gw, engine, "claude-3-5-sonnet-20241022", limits)

	out, err := gen.Generate(context.Background(), "story-1", GenerateInput{
		Bible:   testBible(),
		Outline: testOutline(),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Chapter.RegenerationState != storymodel.RegenExhausted {
		t.Errorf("RegenerationState = %s, want exhausted", out.Chapter.RegenerationState)
	}
	if out.Chapter.RegenerationCount != 2 {
		t.Errorf("RegenerationCount = %d, want 2 (3 attempts, 0-indexed)", out.Chapter.RegenerationCount)
	}
}
