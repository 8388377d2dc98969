package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/fablepress/storyforge/internal/config"
	"github.com/fablepress/storyforge/internal/store"
	"github.com/fablepress/storyforge/internal/storymodel"
)

// Sweeper is the scheduled self-healing task of §4.8: it finds stories
// stuck in error or a stale generating_* step, applies a circuit breaker,
// and resumes the appropriate stage.
type Sweeper struct {
	store        store.Store
	orchestrator *Orchestrator
	cfg          config.SweeperConfig
	logger       *slog.Logger
}

// NewSweeper returns a Sweeper that drives orchestrator's Advance for
// recovery attempts.
func NewSweeper(st store.Store, orchestrator *Orchestrator, cfg config.SweeperConfig, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: st, orchestrator: orchestrator, cfg: cfg, logger: logger.With("component", "sweeper")}
}

// Sweep runs one pass: query candidates, apply the circuit breaker, and
// re-invoke generation for everything still worth retrying. Runs on a fixed
// interval and once at process startup.
func (s *Sweeper) Sweep(ctx context.Context) error {
	candidates, err := s.store.ListStalledStories(ctx, time.Now().Add(-s.cfg.StalenessThreshold))
	if err != nil {
		return err
	}
	for _, story := range candidates {
		s.recover(ctx, story)
	}
	return nil
}

// recover applies the three-step circuit breaker named in §4.8 to a single
// candidate. Errors recovering one story are logged, never propagated —
// one story's pathology must not stall the sweep of every other story.
func (s *Sweeper) recover(ctx context.Context, story storymodel.Story) {
	if story.Progress.HealthCheckRetries >= s.cfg.MaxRecoveryRetries {
		s.failPermanently(ctx, story, story.Progress.LastError)
		return
	}

	previousError := story.Progress.LastError
	priorRetries := story.Progress.HealthCheckRetries

	claimed := story.Progress
	claimed.HealthCheckRetries++
	claimed.LastUpdated = time.Now()
	ok, err := s.store.CompareAndSwapProgress(ctx, story.ID, story.Progress.CurrentStep, story.Progress.LastUpdated, claimed)
	if err != nil {
		s.logger.Error("sweeper claim failed", "story_id", story.ID, "error", err)
		return
	}
	if !ok {
		// Someone else (the orchestrator or a concurrent sweep) already owns
		// this story; nothing to recover.
		return
	}
	story.Progress = claimed

	genErr := s.orchestrator.Advance(ctx, story.ID)
	if genErr == nil {
		return
	}

	if previousError != "" && previousError == genErr.Error() && priorRetries >= 1 {
		// Two consecutive identical failures indicate a deterministic bug;
		// further retries would only waste budget.
		s.failPermanently(ctx, story, genErr.Error())
		return
	}

	s.recordError(ctx, story, genErr.Error())
}

func (s *Sweeper) failPermanently(ctx context.Context, story storymodel.Story, lastError string) {
	story.Status = storymodel.StatusError
	story.Progress.CurrentStep = storymodel.StepPermanentlyFailed
	story.Progress.LastError = lastError
	story.Progress.LastUpdated = time.Now()
	story.UpdatedAt = story.Progress.LastUpdated
	if err := s.store.UpdateStory(ctx, story); err != nil {
		s.logger.Error("sweeper failed to persist permanent failure", "story_id", story.ID, "error", err)
		return
	}
	s.logger.Warn("story permanently failed", "story_id", story.ID, "last_error", lastError)
}

func (s *Sweeper) recordError(ctx context.Context, story storymodel.Story, lastError string) {
	story.Progress.LastError = lastError
	story.Progress.LastUpdated = time.Now()
	story.UpdatedAt = story.Progress.LastUpdated
	if err := s.store.UpdateStory(ctx, story); err != nil {
		s.logger.Error("sweeper failed to record recovery error", "story_id", story.ID, "error", err)
	}
}
