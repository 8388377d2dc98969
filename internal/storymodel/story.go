// Package storymodel defines the durable entity types shared by every
// generation stage: stories, bibles, arcs, chapters, ledgers, and feedback.
package storymodel

import "time"

// Step is the fixed set of values generation_progress.current_step may hold.
type Step string

const (
	StepGeneratingBible             Step = "generating_bible"
	StepGeneratingArc                Step = "generating_arc"
	StepGeneratingChapter1           Step = "generating_chapter_1"
	StepGeneratingChapter2           Step = "generating_chapter_2"
	StepGeneratingChapter3           Step = "generating_chapter_3"
	StepGeneratingChapter4           Step = "generating_chapter_4"
	StepGeneratingChapter5           Step = "generating_chapter_5"
	StepGeneratingChapter6           Step = "generating_chapter_6"
	StepGeneratingChapter7           Step = "generating_chapter_7"
	StepGeneratingChapter8           Step = "generating_chapter_8"
	StepGeneratingChapter9           Step = "generating_chapter_9"
	StepGeneratingChapter10          Step = "generating_chapter_10"
	StepGeneratingChapter11          Step = "generating_chapter_11"
	StepGeneratingChapter12          Step = "generating_chapter_12"
	StepAwaitingChapter2Feedback     Step = "awaiting_chapter_2_feedback"
	StepAwaitingChapter5Feedback     Step = "awaiting_chapter_5_feedback"
	StepAwaitingChapter8Feedback     Step = "awaiting_chapter_8_feedback"
	StepChapter12Complete            Step = "chapter_12_complete"
	StepPermanentlyFailed            Step = "permanently_failed"
)

// generatingChapter maps chapter number to its Step, 1..12.
var generatingChapter = [13]Step{
	1:  StepGeneratingChapter1,
	2:  StepGeneratingChapter2,
	3:  StepGeneratingChapter3,
	4:  StepGeneratingChapter4,
	5:  StepGeneratingChapter5,
	6:  StepGeneratingChapter6,
	7:  StepGeneratingChapter7,
	8:  StepGeneratingChapter8,
	9:  StepGeneratingChapter9,
	10: StepGeneratingChapter10,
	11: StepGeneratingChapter11,
	12: StepGeneratingChapter12,
}

// GeneratingChapterStep returns the Step for generating chapter n, n in 1..12.
func GeneratingChapterStep(n int) Step {
	if n < 1 || n > 12 {
		return StepPermanentlyFailed
	}
	return generatingChapter[n]
}

// IsGenerating reports whether s is one of the generating_* states.
func (s Step) IsGenerating() bool {
	switch s {
	case StepGeneratingBible, StepGeneratingArc:
		return true
	}
	for n := 1; n <= 12; n++ {
		if s == generatingChapter[n] {
			return true
		}
	}
	return false
}

// IsAwaitingFeedback reports whether s is one of the await_*_feedback states.
func (s Step) IsAwaitingFeedback() bool {
	switch s {
	case StepAwaitingChapter2Feedback, StepAwaitingChapter5Feedback, StepAwaitingChapter8Feedback:
		return true
	}
	return false
}

// StoryStatus is the top-level lifecycle status of a Story.
type StoryStatus string

const (
	StatusGenerating StoryStatus = "generating"
	StatusActive     StoryStatus = "active"
	StatusCompleted  StoryStatus = "completed"
	StatusAbandoned  StoryStatus = "abandoned"
	StatusError      StoryStatus = "error"
	StatusArchived   StoryStatus = "archived"
)

// GenerationProgress is the typed replacement for an ad-hoc progress blob.
type GenerationProgress struct {
	CurrentStep         Step      `json:"current_step"`
	ChaptersGenerated    int       `json:"chapters_generated"`
	BatchStart           int       `json:"batch_start"`
	BatchEnd             int       `json:"batch_end"`
	HealthCheckRetries   int       `json:"health_check_retries"`
	LastError            string    `json:"last_error,omitempty"`
	LastUpdated          time.Time `json:"last_updated"`
}

// Story is the root entity owning a bible, a current arc, and chapters.
type Story struct {
	ID              string
	UserID          string
	Title           string
	Genre           string
	Status          StoryStatus
	Progress        GenerationProgress
	BibleID         string
	CurrentArcID    string
	SeriesID        string
	BookNumber      int
	SelectedPremise Premise
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Tier is the comfort/stretch/wildcard classification of a premise.
type Tier string

const (
	TierComfort  Tier = "comfort"
	TierStretch  Tier = "stretch"
	TierWildcard Tier = "wildcard"
)

// Premise is one of the three choices offered at story creation.
type Premise struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Hook        string   `json:"hook"`
	Genre       string   `json:"genre"`
	Themes      []string `json:"themes"`
	Tier        Tier     `json:"tier"`
}

// PremiseSet is the exactly-3-premise offer generated from user preferences.
type PremiseSet struct {
	ID        string
	UserID    string
	Premises  [3]Premise
	Discarded bool
	CreatedAt time.Time
}
