package storymodel

import "time"

// CostEntry is one append-only token-usage record written after every LLM call.
type CostEntry struct {
	UserID       string
	Operation    string
	InputTokens  int
	OutputTokens int
	Timestamp    time.Time
	Context      map[string]any
}
