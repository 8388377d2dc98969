// Package chapter assembles the chapter generation prompt, runs the
// deterministic prose scanner and rubric quality review over the result,
// applies bounded regeneration, and extracts per-chapter entities into the
// character and world-state ledgers (§4.4).
package chapter

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fablepress/storyforge/internal/bookerr"
	"github.com/fablepress/storyforge/internal/config"
	"github.com/fablepress/storyforge/internal/constraints"
	"github.com/fablepress/storyforge/internal/llm"
	"github.com/fablepress/storyforge/internal/storymodel"
)

// DefaultCraftRules is the deterministic writing-craft template used when no
// file override is configured.
const DefaultCraftRules = `Writing craft rules:
- Open with a concrete action or sensory image, never with scene-setting exposition.
- End every chapter on a hook: a question, a reversal, or a threat.
- Show character state through action and dialogue, not narrated adjectives.
- Vary sentence length; avoid stacking more than two subordinate clauses.
- Dialogue must reveal character voice established in the bible.`

// PriorChapterSummary is the compressed view of an already-committed chapter
// the generator feeds forward to the next one.
type PriorChapterSummary struct {
	ChapterNumber int
	KeyEvents     []string
	OpeningHook   string
	ClosingHook   string
}

// GenerateInput is everything the generator needs to produce one chapter.
type GenerateInput struct {
	Bible           storymodel.Bible
	Outline         storymodel.ChapterOutline
	PriorChapters   []PriorChapterSummary
	Brief           *storymodel.EditorBrief
	RecentWorldState []storymodel.LedgerEntry
	RecentCharacters []storymodel.LedgerEntry
	ReadingLevel    string
}

// GenerateOutput is the accepted (or exhausted) chapter plus its audit trail.
type GenerateOutput struct {
	Chapter     storymodel.Chapter
	Completions []llm.Completion
}

// Generator assembles prompts, invokes the LLM, and applies the regeneration
// policy described in §4.4.
type Generator struct {
	gateway        llm.Gateway
	engine         *constraints.Engine
	model          string
	limits         config.Limits
	craftRules     string
	craftRulesPath string

	craftRulesOnce   sync.Once
	craftRulesLoaded string
	craftRulesErr    error
}

// Option configures a Generator.
type Option func(*Generator)

// WithCraftRulesFile overrides the embedded default craft-rules template
// with a file, loaded once and cached.
func WithCraftRulesFile(path string) Option {
	return func(g *Generator) { g.craftRulesPath = path }
}

// New returns a Generator that drives gateway for chapter prose and engine
// for constraint extraction/validation, both using model.
func New(gateway llm.Gateway, engine *constraints.Engine, model string, limits config.Limits, opts ...Option) *Generator {
	g := &Generator{
		gateway:    gateway,
		engine:     engine,
		model:      model,
		limits:     limits,
		craftRules: DefaultCraftRules,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// loadCraftRules reads the craft-rules override file once per Generator and
// caches the result; every subsequent chapter reuses it without touching
// disk again.
func (g *Generator) loadCraftRules() (string, error) {
	if g.craftRulesPath == "" {
		return g.craftRules, nil
	}
	g.craftRulesOnce.Do(func() {
		content, err := os.ReadFile(g.craftRulesPath)
		if err != nil {
			g.craftRulesErr = fmt.Errorf("reading craft rules file: %w", err)
			return
		}
		g.craftRulesLoaded = string(content)
	})
	return g.craftRulesLoaded, g.craftRulesErr
}

// Generate runs the full pipeline for one chapter: extraction, generation,
// prose scan, quality review, constraint validation, and bounded
// regeneration. It always returns a committable chapter — on exhaustion, the
// last attempt is returned with RegenerationState set to exhausted, per the
// deliberate liveness choice in §4.3. Attempts are not ranked against each
// other; an earlier, better-scoring attempt is discarded.
func (g *Generator) Generate(ctx context.Context, storyID string, in GenerateInput) (GenerateOutput, error) {
	craftRules, err := g.loadCraftRules()
	if err != nil {
		return GenerateOutput{}, bookerr.New(bookerr.StageFailed, "chapter_generation", err)
	}

	priorKeyEvents := make([][]string, len(in.PriorChapters))
	for i, p := range in.PriorChapters {
		priorKeyEvents[i] = p.KeyEvents
	}

	set, extractCompletion, err := g.engine.Extract(ctx, constraints.ExtractionInput{
		Outline:          in.Outline,
		PriorKeyEvents:   priorKeyEvents,
		RecentWorldState: in.RecentWorldState,
		RecentCharacters: in.RecentCharacters,
	})
	if err != nil {
		return GenerateOutput{}, err
	}

	out := GenerateOutput{Completions: []llm.Completion{extractCompletion}}

	var (
		lastText       string
		lastWordCount  int
		lastReview     storymodel.QualityReview
		lastValidation storymodel.ConstraintValidation
		failureReasons []string
	)

	maxAttempts := g.limits.MaxRegenerations
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		prompt := buildGenerationPrompt(in, set, craftRules, failureReasons)

		completion, err := g.gateway.Complete(ctx, g.model, prompt, 8192)
		if err != nil {
			return GenerateOutput{}, bookerr.New(bookerr.ModelTransient, "chapter_generation", err)
		}
		out.Completions = append(out.Completions, completion)

		text := strings.TrimSpace(completion.Text)
		wordCount := len(strings.Fields(text))
		lastText, lastWordCount = text, wordCount

		scan := Scan(text, g.limits.ProseScannerLimits)
		if !scan.Pass {
			failureReasons = scanFailureReasons(scan)
			if attempt == maxAttempts {
				break
			}
			continue
		}

		review, reviewCompletion, err := ReviewQuality(ctx, g.gateway, g.model, text, g.limits.QualityPassThreshold)
		if err != nil {
			return GenerateOutput{}, err
		}
		lastReview = review
		out.Completions = append(out.Completions, reviewCompletion)

		validation, validateCompletion, err := g.engine.Validate(ctx, text, set)
		if err != nil {
			return GenerateOutput{}, err
		}
		lastValidation = validation
		out.Completions = append(out.Completions, validateCompletion)

		if validation.Verdict == storymodel.VerdictPass {
			if review.Pass || attempt == maxAttempts {
				return g.finalize(storyID, in, text, wordCount, review, validation, set, attempt, attempt < maxAttempts || review.Pass, out)
			}
			// Soft FAIL under budget: retry with the suggested fixes as the
			// next prompt's failure reasons.
			failureReasons = qualityFailureReasons(review)
			continue
		}

		failureReasons = validation.SpecificIssues
		if attempt == maxAttempts {
			break
		}
	}

	// Exhausted: commit the last attempt anyway.
	return g.finalize(storyID, in, lastText, lastWordCount, lastReview, lastValidation, set, maxAttempts, false, out)
}

func (g *Generator) finalize(storyID string, in GenerateInput, text string, wordCount int, review storymodel.QualityReview, validation storymodel.ConstraintValidation, set storymodel.ConstraintSet, attempts int, accepted bool, out GenerateOutput) (GenerateOutput, error) {
	state := storymodel.RegenAccepted
	if !accepted {
		state = storymodel.RegenExhausted
	}

	opening, closing := extractHooks(text)

	out.Chapter = storymodel.Chapter{
		StoryID:           storyID,
		ChapterNumber:     in.Outline.ChapterNumber,
		Title:             in.Outline.Title,
		Content:           text,
		WordCount:         wordCount,
		QualityScore:      review.WeightedScore,
		RegenerationCount: attempts - 1,
		QualityReview:     review,
		ConstraintResult:  validation,
		RegenerationState: state,
		OpeningHook:       opening,
		ClosingHook:       in.Outline.ChapterHook,
		KeyEvents:         deriveKeyEvents(set, validation),
	}
	out.Chapter.ClosingHook = closing
	return out, nil
}

func scanFailureReasons(scan ScanResult) []string {
	reasons := make([]string, 0, len(scan.Violations))
	for _, v := range scan.Violations {
		reasons = append(reasons, fmt.Sprintf("prose scanner: too many instances of pattern %q (count %d)", v, scan.Counts[v]))
	}
	return reasons
}

func qualityFailureReasons(review storymodel.QualityReview) []string {
	var reasons []string
	for _, c := range review.Criteria {
		if c.SuggestedFix != "" {
			reasons = append(reasons, fmt.Sprintf("%s: %s", c.Name, c.SuggestedFix))
		}
	}
	return reasons
}

// extractHooks takes the first and last non-empty paragraph as the opening
// and closing hooks.
func extractHooks(text string) (opening, closing string) {
	paragraphs := strings.FieldsFunc(text, func(r rune) bool { return r == '\n' })
	var nonEmpty []string
	for _, p := range paragraphs {
		if strings.TrimSpace(p) != "" {
			nonEmpty = append(nonEmpty, strings.TrimSpace(p))
		}
	}
	if len(nonEmpty) == 0 {
		return "", ""
	}
	return nonEmpty[0], nonEmpty[len(nonEmpty)-1]
}

// deriveKeyEvents folds delivered must constraints into a compact key-events
// list future chapters' prompts can summarize.
func deriveKeyEvents(set storymodel.ConstraintSet, validation storymodel.ConstraintValidation) []string {
	delivered := make(map[string]bool, len(validation.MustChecks))
	for _, c := range validation.MustChecks {
		if c.Status == storymodel.StatusDelivered {
			delivered[c.ID] = true
		}
	}
	var events []string
	for _, m := range set.Must {
		if delivered[m.ID] {
			events = append(events, m.Statement)
		}
	}
	return events
}

func buildGenerationPrompt(in GenerateInput, set storymodel.ConstraintSet, craftRules string, failureReasons []string) string {
	var b strings.Builder

	b.WriteString("You are writing one chapter of a serialized novel.\n\n")
	fmt.Fprintf(&b, "Protagonist: %s. Goals: %s. Fears: %s. Voice: %s.\n",
		in.Bible.Protagonist.Name, in.Bible.Protagonist.Goals, in.Bible.Protagonist.Fears, in.Bible.Protagonist.Voice)
	fmt.Fprintf(&b, "Antagonist: %s. Goals: %s.\n", in.Bible.Antagonist.Name, in.Bible.Antagonist.Goals)
	fmt.Fprintf(&b, "Central conflict: %s. Stakes: %s.\n", in.Bible.CentralConflict, in.Bible.Stakes)
	fmt.Fprintf(&b, "World rules: %s\n\n", strings.Join(in.Bible.WorldRules, "; "))

	outline := in.Outline
	var editorNotes string
	if in.Brief != nil {
		if revised, ok := in.Brief.RevisedOutlines[outline.ChapterNumber]; ok {
			outline.EventsSummary = revised.EventsSummary
			editorNotes = revised.EditorNotes
		}
	}
	fmt.Fprintf(&b, "Chapter %d: %s\nEvents: %s\nCharacter focus: %s\nTension level: %d\nEmotional arc: %s\nKey revelations: %s\nChapter hook: %s\nTarget word count: %d-%d words.\n\n",
		outline.ChapterNumber, outline.Title, outline.EventsSummary, strings.Join(outline.CharacterFocus, ", "),
		outline.TensionLevel, outline.EmotionalArc, strings.Join(outline.KeyRevelations, "; "), outline.ChapterHook,
		outline.WordCountTarget, outline.WordCountTarget)

	if len(in.PriorChapters) > 0 {
		b.WriteString("Previously committed chapters:\n")
		for _, p := range in.PriorChapters {
			fmt.Fprintf(&b, "Chapter %d opened with: %s. It ended with: %s. Key events: %s\n", p.ChapterNumber, p.OpeningHook, p.ClosingHook, strings.Join(p.KeyEvents, "; "))
		}
		b.WriteString("\n")
	}

	if in.Brief != nil {
		if editorNotes != "" {
			fmt.Fprintf(&b, "Editor notes for this chapter: %s\n", editorNotes)
		}
		if in.Brief.StyleExample != "" {
			fmt.Fprintf(&b, "Style example demonstrating the corrected voice:\n%s\n\n", in.Brief.StyleExample)
		}
	}

	b.WriteString("Must deliver:\n")
	for _, m := range set.Must {
		fmt.Fprintf(&b, "- %s\n", m.Statement)
	}
	b.WriteString("Must not contradict:\n")
	for _, mn := range set.MustNot {
		fmt.Fprintf(&b, "- %s\n", mn.Statement)
	}
	b.WriteString("Should include if natural:\n")
	for _, s := range set.Should {
		fmt.Fprintf(&b, "- %s\n", s.Statement)
	}
	b.WriteString("\n")

	b.WriteString(craftRules)
	b.WriteString("\n\n")

	if in.ReadingLevel != "" {
		fmt.Fprintf(&b, "Target reading level: %s.\n", in.ReadingLevel)
	}

	if len(failureReasons) > 0 {
		b.WriteString("The previous attempt was rejected for these reasons — address them directly:\n")
		for _, r := range failureReasons {
			fmt.Fprintf(&b, "- %s\n", r)
		}
		b.WriteString("\n")
	}

	b.WriteString("Write the chapter prose only, no headings, no commentary.")
	return b.String()
}
