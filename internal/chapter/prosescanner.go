package chapter

import (
	"regexp"
	"sort"

	"github.com/fablepress/storyforge/internal/config"
)

var patternRegexes = map[string]*regexp.Regexp{
	config.PatternEmDash:         regexp.MustCompile(`—|--`),
	config.PatternNotXButY:       regexp.MustCompile(`(?i)\bnot\s+\w+(\s+\w+){0,4},?\s+but\s+\w+`),
	config.PatternSomethingInX:   regexp.MustCompile(`(?i)\bsomething\s+in\s+(his|her|their|its)\s+\w+`),
	config.PatternTheKindOfXThatY: regexp.MustCompile(`(?i)\bthe\s+kind\s+of\s+\w+\s+that\b`),
}

// ScanResult is the deterministic prose-scanner's verdict for one chapter
// draft (§4.4).
type ScanResult struct {
	Pass   bool
	Counts map[string]int
	// Violations names the patterns whose count exceeds its configured
	// limit.
	Violations []string
}

// Scan counts occurrences of every forbidden pattern in text and compares
// each against limits. It is pure and idempotent: identical input always
// yields an identical result.
func Scan(text string, limits map[string]int) ScanResult {
	counts := make(map[string]int, len(patternRegexes))
	var violations []string

	for name, re := range patternRegexes {
		n := len(re.FindAllStringIndex(text, -1))
		counts[name] = n
		if limit, ok := limits[name]; ok && n > limit {
			violations = append(violations, name)
		}
	}

	sort.Strings(violations)

	return ScanResult{
		Pass:       len(violations) == 0,
		Counts:     counts,
		Violations: violations,
	}
}
