// Package cost is the append-only token-usage ledger, keyed by (user,
// operation), that every LLM-calling stage writes to after each completion.
package cost

import (
	"context"
	"time"

	"github.com/fablepress/storyforge/internal/llm"
	"github.com/fablepress/storyforge/internal/storymodel"
)

// Recorder is the narrow store capability the ledger writes through.
type Recorder interface {
	AppendCostEntry(ctx context.Context, entry storymodel.CostEntry) error
}

// Ledger records token usage for billing and capacity planning.
type Ledger struct {
	store Recorder
}

// New returns a Ledger backed by store.
func New(store Recorder) *Ledger {
	return &Ledger{store: store}
}

// Record appends one usage entry for a completed LLM call.
func (l *Ledger) Record(ctx context.Context, userID, operation string, completion llm.Completion, meta map[string]any) error {
	return l.store.AppendCostEntry(ctx, storymodel.CostEntry{
		UserID:       userID,
		Operation:    operation,
		InputTokens:  completion.InputTokens,
		OutputTokens: completion.OutputTokens,
		Timestamp:    time.Now(),
		Context:      meta,
	})
}
