package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/fablepress/storyforge/internal/config"
	"github.com/fablepress/storyforge/internal/storymodel"
)

func newTestSweeper(o *Orchestrator, cfg config.SweeperConfig) *Sweeper {
	return NewSweeper(o.store, o, cfg, nil)
}

func staleStory(step storymodel.Step, retries int, lastError string) storymodel.Story {
	s := newTestStory(step)
	s.Status = storymodel.StatusError
	s.Progress.HealthCheckRetries = retries
	s.Progress.LastError = lastError
	s.Progress.LastUpdated = time.Now().Add(-2 * time.Hour)
	return s
}

func TestSweeperFailsPermanentlyWhenRetriesExhausted(t *testing.T) {
	gw := &scriptedGateway{err: errFakeGatewayShouldNotBeCalled}
	o := newTestOrchestrator(gw)
	ctx := context.Background()

	cfg := config.DefaultSweeperConfig()
	story := staleStory(storymodel.StepGeneratingBible, cfg.MaxRecoveryRetries, "some prior error")
	if err := o.store.CreateStory(ctx, story); err != nil {
		t.Fatalf("CreateStory: %v", err)
	}

	sweeper := newTestSweeper(o, cfg)
	if err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}

	updated, err := o.store.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if updated.Progress.CurrentStep != storymodel.StepPermanentlyFailed {
		t.Errorf("CurrentStep = %s, want permanently_failed", updated.Progress.CurrentStep)
	}
	if updated.Status != storymodel.StatusError {
		t.Errorf("Status = %s, want error", updated.Status)
	}
	if gw.calls != 0 {
		t.Errorf("gateway was called %d times, want 0 (retries already exhausted, no recovery attempt)", gw.calls)
	}
}

func TestSweeperFailsPermanentlyOnTwoIdenticalConsecutiveErrors(t *testing.T) {
	// advanceBible will fail again with the same error (no bible exists, so
	// the bible pass runs and gets a malformed-JSON failure) because the
	// gateway returns unparseable JSON both times.
	gw := &scriptedGateway{responses: []string{"not json", "not json"}}
	o := newTestOrchestrator(gw)
	ctx := context.Background()

	cfg := config.DefaultSweeperConfig()
	story := staleStory(storymodel.StepGeneratingBible, 1, "")
	if err := o.store.CreateStory(ctx, story); err != nil {
		t.Fatalf("CreateStory: %v", err)
	}

	// First failure establishes last_error.
	firstErr := o.Advance(ctx, story.ID)
	if firstErr == nil {
		t.Fatal("expected the first malformed-JSON attempt to fail")
	}
	withError, err := o.store.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	withError.Progress.LastError = firstErr.Error()
	withError.Progress.HealthCheckRetries = 1
	withError.Progress.LastUpdated = time.Now().Add(-2 * time.Hour)
	withError.Status = storymodel.StatusError
	if err := o.store.UpdateStory(ctx, withError); err != nil {
		t.Fatalf("UpdateStory: %v", err)
	}

	sweeper := newTestSweeper(o, cfg)
	if err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}

	updated, err := o.store.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if updated.Progress.CurrentStep != storymodel.StepPermanentlyFailed {
		t.Errorf("CurrentStep = %s, want permanently_failed (two identical consecutive failures)", updated.Progress.CurrentStep)
	}
}

func TestSweeperRetriesAndRecordsNewError(t *testing.T) {
	gw := &scriptedGateway{responses: []string{"not json"}}
	o := newTestOrchestrator(gw)
	ctx := context.Background()

	cfg := config.DefaultSweeperConfig()
	story := staleStory(storymodel.StepGeneratingBible, 0, "")
	if err := o.store.CreateStory(ctx, story); err != nil {
		t.Fatalf("CreateStory: %v", err)
	}

	sweeper := newTestSweeper(o, cfg)
	if err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}

	updated, err := o.store.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if updated.Progress.CurrentStep == storymodel.StepPermanentlyFailed {
		t.Error("a single new failure must not trip the permanent-failure circuit breaker")
	}
	if updated.Progress.LastError == "" {
		t.Error("expected the new error to be recorded for the next sweep to compare against")
	}
	if updated.Progress.HealthCheckRetries != 1 {
		t.Errorf("HealthCheckRetries = %d, want 1", updated.Progress.HealthCheckRetries)
	}
}

func TestSweeperRecoversSuccessfully(t *testing.T) {
	gw := &scriptedGateway{responses: []string{validBibleJSON}}
	o := newTestOrchestrator(gw)
	ctx := context.Background()

	cfg := config.DefaultSweeperConfig()
	story := staleStory(storymodel.StepGeneratingBible, 1, "a transient error")
	if err := o.store.CreateStory(ctx, story); err != nil {
		t.Fatalf("CreateStory: %v", err)
	}

	sweeper := newTestSweeper(o, cfg)
	if err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}

	updated, err := o.store.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if updated.Progress.CurrentStep != storymodel.StepGeneratingArc {
		t.Errorf("CurrentStep = %s, want generating_arc after a successful recovery", updated.Progress.CurrentStep)
	}
}

func TestSweeperSkipsStoryAlreadyClaimedByAnotherWorker(t *testing.T) {
	gw := &scriptedGateway{err: errFakeGatewayShouldNotBeCalled}
	o := newTestOrchestrator(gw)
	ctx := context.Background()

	cfg := config.DefaultSweeperConfig()
	story := staleStory(storymodel.StepGeneratingBible, 0, "")
	if err := o.store.CreateStory(ctx, story); err != nil {
		t.Fatalf("CreateStory: %v", err)
	}

	// A concurrent worker bumps last_updated between ListStalledStories and
	// the sweeper's own claim attempt.
	bumped := story.Progress
	bumped.LastUpdated = time.Now()
	ok, err := o.store.CompareAndSwapProgress(ctx, story.ID, story.Progress.CurrentStep, story.Progress.LastUpdated, bumped)
	if err != nil || !ok {
		t.Fatalf("setup CAS failed: ok=%v err=%v", ok, err)
	}

	sweeper := NewSweeper(o.store, o, cfg, nil)
	sweeper.recover(ctx, story) // story is the pre-bump snapshot, simulating the race

	if gw.calls != 0 {
		t.Errorf("gateway was called %d times, want 0 (story already owned)", gw.calls)
	}
	updated, err := o.store.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if updated.Progress.CurrentStep == storymodel.StepPermanentlyFailed {
		t.Error("a claim conflict must not be treated as a recovery failure")
	}
}
