package storymodel

import "time"

// Checkpoint is one of the three canonical mid-book feedback gates, or the
// end-of-book library exit survey.
type Checkpoint string

const (
	CheckpointChapter2  Checkpoint = "chapter_2"
	CheckpointChapter5  Checkpoint = "chapter_5"
	CheckpointChapter8  Checkpoint = "chapter_8"
	CheckpointLibraryExit Checkpoint = "library_exit"
)

// FeedbackKind discriminates the CheckpointFeedback sum type.
type FeedbackKind string

const (
	FeedbackDimension     FeedbackKind = "dimension"
	FeedbackFreeForm      FeedbackKind = "free_form"
	FeedbackVoiceInterview FeedbackKind = "voice_interview"
)

// Pacing, tone, and character dimension values. Only the first listed value
// in each set is the "neutral/positive" value that suppresses editor-brief
// corrections; every other value signals a course correction is wanted.
const (
	PacingHooked = "hooked"
	ToneRight    = "right"
	CharacterLove = "love"
)

// DimensionFeedback is the closed-set pacing/tone/character rating.
type DimensionFeedback struct {
	Pacing    string `json:"pacing"`
	Tone      string `json:"tone"`
	Character string `json:"character"`
}

// Positive reports whether every dimension is in the neutral/positive set.
func (d DimensionFeedback) Positive() bool {
	return d.Pacing == PacingHooked && d.Tone == ToneRight && d.Character == CharacterLove
}

// FreeFormFeedback is an unstructured reader response.
type FreeFormFeedback struct {
	Text string `json:"text"`
}

// VoiceInterviewFeedback is structured extraction from a voice interview.
type VoiceInterviewFeedback struct {
	Transcript   string         `json:"transcript"`
	Extraction   map[string]any `json:"extraction"`
}

// CheckpointFeedback is the sum type persisted per (user, story, checkpoint).
type CheckpointFeedback struct {
	UserID     string
	StoryID    string
	Checkpoint Checkpoint
	Kind       FeedbackKind
	Dimension  *DimensionFeedback
	FreeForm   *FreeFormFeedback
	Voice      *VoiceInterviewFeedback
	CreatedAt  time.Time
}

// Positive reports whether this feedback entry counts as neutral/positive
// for editor-brief suppression purposes. Only dimensioned feedback can be
// positive; free-form and voice-interview feedback always requires review.
func (f CheckpointFeedback) Positive() bool {
	return f.Kind == FeedbackDimension && f.Dimension != nil && f.Dimension.Positive()
}

// Severity classifies a post-commit validation finding.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityMinor    Severity = "minor"
	SeverityCritical Severity = "critical"
)

// ValidationIssue is one flagged character/world/plot inconsistency.
type ValidationIssue struct {
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Span        string   `json:"span,omitempty"`
}

// ValidationResult is the post-commit entity-consistency check output.
type ValidationResult struct {
	ChapterID string
	Issues    []ValidationIssue
}

// MaxSeverity returns the most severe issue in the result, or SeverityNone.
func (r ValidationResult) MaxSeverity() Severity {
	max := SeverityNone
	for _, i := range r.Issues {
		if i.Severity == SeverityCritical {
			return SeverityCritical
		}
		if i.Severity == SeverityMinor {
			max = SeverityMinor
		}
	}
	return max
}

// EditorBrief is the non-nil output of the editor-brief builder: revised
// outlines per chapter plus a single style exemplar for the upcoming batch.
type EditorBrief struct {
	RevisedOutlines map[int]RevisedOutline
	StyleExample    string
}

// RevisedOutline carries a rewritten events summary and editor notes for one
// chapter, overriding the arc's planned outline for that chapter number.
type RevisedOutline struct {
	ChapterNumber int
	EventsSummary string
	EditorNotes   string
}
