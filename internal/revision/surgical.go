package revision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fablepress/storyforge/internal/bookerr"
	"github.com/fablepress/storyforge/internal/llm"
	"github.com/fablepress/storyforge/internal/storymodel"
)

// Surgical performs a single bounded revision pass: "fix only these
// specific issues with minimum edits, preserve voice and structure." On
// failure the original chapter content stands.
type Surgical struct {
	gateway llm.Gateway
	model   string
	logger  *slog.Logger
}

// NewSurgical returns a Surgical reviser driven by gateway using model.
func NewSurgical(gateway llm.Gateway, model string, logger *slog.Logger) *Surgical {
	if logger == nil {
		logger = slog.Default()
	}
	return &Surgical{gateway: gateway, model: model, logger: logger.With("component", "surgical_revision")}
}

// ReviseResult is the outcome of one surgical revision attempt.
type ReviseResult struct {
	Revised      bool
	Content      string
	InputTokens  int
	OutputTokens int
}

// Revise attempts one bounded fix pass over chapterText addressing only the
// critical issues in result. If result has no critical issues, or the
// attempt fails, Revised is false and Content is the original text.
func (s *Surgical) Revise(ctx context.Context, chapterText string, result storymodel.ValidationResult) ReviseResult {
	if result.MaxSeverity() != storymodel.SeverityCritical {
		return ReviseResult{Revised: false, Content: chapterText}
	}

	prompt := buildSurgicalPrompt(chapterText, result.Issues)
	completion, err := s.gateway.Complete(ctx, s.model, prompt, 8192)
	if err != nil {
		s.logger.Warn("surgical revision failed, original chapter stands", "error", bookerr.New(bookerr.ModelTransient, "surgical_revision", err))
		return ReviseResult{Revised: false, Content: chapterText}
	}

	revised := strings.TrimSpace(completion.Text)
	if revised == "" {
		s.logger.Warn("surgical revision returned empty text, original chapter stands")
		return ReviseResult{Revised: false, Content: chapterText}
	}

	return ReviseResult{
		Revised:      true,
		Content:      revised,
		InputTokens:  completion.InputTokens,
		OutputTokens: completion.OutputTokens,
	}
}

func buildSurgicalPrompt(chapterText string, issues []storymodel.ValidationIssue) string {
	var b strings.Builder
	b.WriteString("Fix only these specific issues with minimum edits. Preserve voice and structure exactly everywhere else.\n\n")
	b.WriteString("Critical issues to fix:\n")
	for _, issue := range issues {
		if issue.Severity != storymodel.SeverityCritical {
			continue
		}
		fmt.Fprintf(&b, "- %s", issue.Description)
		if issue.Span != "" {
			fmt.Fprintf(&b, " (in: %q)", issue.Span)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nChapter text:\n")
	b.WriteString(chapterText)
	b.WriteString("\n\nReturn the full revised chapter text only, no commentary, no markdown fences.")
	return b.String()
}
