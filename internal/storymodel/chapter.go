package storymodel

import "time"

// Verdict is the Pass-3 constraint validator's outcome.
type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictFail Verdict = "FAIL"
)

// ConstraintStatus is the delivery status of a single must/must_not entry.
type ConstraintStatus string

const (
	StatusDelivered    ConstraintStatus = "DELIVERED"
	StatusNotDelivered ConstraintStatus = "NOT_DELIVERED"
	StatusClear        ConstraintStatus = "CLEAR"
	StatusViolated     ConstraintStatus = "VIOLATED"
)

// MustConstraint is a non-negotiable requirement derived from the arc.
type MustConstraint struct {
	ID        string `json:"id"`
	Statement string `json:"statement"`
	Source    string `json:"source"`
}

// MustNotConstraint is a contradiction to avoid.
type MustNotConstraint struct {
	ID        string `json:"id"`
	Statement string `json:"statement"`
	Source    string `json:"source"`
}

// ShouldConstraint is a soft target scored informationally.
type ShouldConstraint struct {
	ID        string `json:"id"`
	Statement string `json:"statement"`
}

// ConstraintSet is the Pass-1 extractor output for one chapter.
type ConstraintSet struct {
	Must    []MustConstraint    `json:"must"`
	MustNot []MustNotConstraint `json:"must_not"`
	Should  []ShouldConstraint  `json:"should"`
}

// ConstraintCheck is the Pass-3 verdict for a single must/must_not entry.
type ConstraintCheck struct {
	ID     string           `json:"id"`
	Status ConstraintStatus `json:"status"`
	Quote  string           `json:"quote,omitempty"`
}

// ConstraintValidation is the full Pass-3 validator output.
type ConstraintValidation struct {
	Verdict        Verdict           `json:"verdict"`
	MustChecks     []ConstraintCheck `json:"must_checks"`
	MustNotChecks  []ConstraintCheck `json:"must_not_checks"`
	SpecificIssues []string          `json:"specific_issues,omitempty"`
}

// AllDelivered reports whether every must check is DELIVERED.
func (v ConstraintValidation) AllDelivered() bool {
	for _, c := range v.MustChecks {
		if c.Status != StatusDelivered {
			return false
		}
	}
	return true
}

// AllClear reports whether every must_not check is CLEAR.
func (v ConstraintValidation) AllClear() bool {
	for _, c := range v.MustNotChecks {
		if c.Status != StatusClear {
			return false
		}
	}
	return true
}

// QualityCriterion is one weighted rubric dimension.
type QualityCriterion struct {
	Name          string  `json:"name"`
	Weight        float64 `json:"weight"`
	Score         float64 `json:"score"`
	Evidence      string  `json:"evidence,omitempty"`
	SuggestedFix  string  `json:"suggested_fix,omitempty"`
}

// QualityReview is the rubric-based LLM review of a generated chapter.
type QualityReview struct {
	Criteria     []QualityCriterion `json:"criteria"`
	WeightedScore float64           `json:"weighted_score"`
	Pass          bool              `json:"pass"`
}

// RegenerationState is the per-attempt state machine for one chapter.
type RegenerationState string

const (
	RegenExtracting RegenerationState = "extracting"
	RegenGenerating RegenerationState = "generating"
	RegenValidating RegenerationState = "validating"
	RegenAccepted   RegenerationState = "accepted"
	RegenRetrying   RegenerationState = "retrying"
	RegenExhausted  RegenerationState = "exhausted"
)

// Chapter is a single committed (or in-progress) chapter of a story.
type Chapter struct {
	ID                string
	StoryID           string
	ChapterNumber     int
	Title             string
	Content           string
	WordCount         int
	QualityScore      float64
	RegenerationCount int
	QualityReview     QualityReview
	ConstraintResult  ConstraintValidation
	RegenerationState RegenerationState
	OpeningHook       string
	ClosingHook       string
	KeyEvents         []string
	CreatedAt         time.Time
}

// EntityType is the classification of a ChapterEntity row.
type EntityType string

const (
	EntityCharacter  EntityType = "character"
	EntityLocation   EntityType = "location"
	EntityWorldRule  EntityType = "world_rule"
	EntityTimeline   EntityType = "timeline"
	EntityPlotThread EntityType = "plot_thread"
)

// ChapterEntity is a single fact extracted from a committed chapter.
type ChapterEntity struct {
	ID            string
	ChapterID     string
	StoryID       string
	ChapterNumber int
	EntityType    EntityType
	EntityName    string
	Fact          string
	SourceQuote   string
	IsConsistent  bool
}

// LedgerEntry is one append-only row in the character or world-state ledger.
type LedgerEntry struct {
	StoryID       string
	ChapterNumber int
	Data          map[string]any
	CreatedAt     time.Time
}
