package config

import "time"

// Limits holds every book-production tuning knob named in §6.
type Limits struct {
	MaxRegenerations   int            `yaml:"max_regenerations" validate:"required,min=1,max=10"`
	ChapterWordBand    [2]int         `yaml:"chapter_word_band" validate:"required"`
	QualityPassThreshold float64      `yaml:"quality_pass_threshold" validate:"required,min=0,max=10"`
	ProseScannerLimits map[string]int `yaml:"prose_scanner_limits" validate:"required"`
	ConcurrentStoriesCap int          `yaml:"concurrent_stories_cap" validate:"required,min=1,max=1000"`
}

// SweeperConfig configures the self-healing sweeper's schedule and circuit
// breaker bound.
type SweeperConfig struct {
	Interval            time.Duration `yaml:"interval" validate:"required,min=1m,max=24h"`
	StalenessThreshold  time.Duration `yaml:"staleness_threshold" validate:"required,min=1m,max=24h"`
	MaxRecoveryRetries  int           `yaml:"max_recovery_retries" validate:"required,min=1,max=20"`
}

// Pattern names recognized by the deterministic prose scanner (§4.4).
const (
	PatternEmDash            = "em_dash"
	PatternNotXButY           = "not_x_but_y"
	PatternSomethingInX       = "something_in_x"
	PatternTheKindOfXThatY    = "the_kind_of_x_that_y"
)

// DefaultLimits returns conservative defaults for every book-production knob.
func DefaultLimits() Limits {
	return Limits{
		MaxRegenerations:     3,
		ChapterWordBand:      [2]int{2200, 3200},
		QualityPassThreshold: 7.0,
		ProseScannerLimits: map[string]int{
			PatternEmDash:         3,
			PatternNotXButY:       1,
			PatternSomethingInX:   1,
			PatternTheKindOfXThatY: 1,
		},
		ConcurrentStoriesCap: 10,
	}
}

// DefaultSweeperConfig returns the sweeper's default schedule and bounds.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:           5 * time.Minute,
		StalenessThreshold: 1 * time.Hour,
		MaxRecoveryRetries: 2,
	}
}
