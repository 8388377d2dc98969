package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fablepress/storyforge/internal/config"
	"github.com/fablepress/storyforge/internal/constraints"
	"github.com/fablepress/storyforge/internal/feedback"
	"github.com/fablepress/storyforge/internal/llm"
	"github.com/fablepress/storyforge/internal/orchestrator"
	"github.com/fablepress/storyforge/internal/store"
	"github.com/fablepress/storyforge/pkg/storyapi"
)

// app wires every component a CLI command needs: the store, the
// orchestrator, the feedback ingester, and the narrow API surface built on
// top of all three.
type app struct {
	store         store.Store
	orchestrator  *orchestrator.Orchestrator
	sweeper       *orchestrator.Sweeper
	sweepInterval time.Duration
	api           storyapi.API
	logger        *slog.Logger

	closePostgres func()
}

// newApp resolves configuration (skipped entirely in --ephemeral mode) and
// constructs every component. Callers must call Close when done.
func newApp(ctx context.Context) (*app, error) {
	logger := newLogger()

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY must be set")
	}
	gateway := llm.NewClient(apiKey, llm.WithLogger(logger))

	var (
		st            store.Store
		limits        config.Limits
		sweeperConfig config.SweeperConfig
		closePostgres func()
	)

	if ephemeral {
		st = store.NewMemory()
		limits = config.DefaultLimits()
		sweeperConfig = config.DefaultSweeperConfig()
		closePostgres = func() {}
	} else {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		pg, err := store.NewPostgres(ctx, cfg.Store.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to store: %w", err)
		}
		st = pg
		limits = cfg.Limits
		sweeperConfig = cfg.Sweeper
		closePostgres = pg.Close
	}

	engine := constraints.New(gateway, model)
	orch := orchestrator.New(st, gateway, engine, model, limits, logger, nil)
	sweeper := orchestrator.NewSweeper(st, orch, sweeperConfig, logger)
	ing := feedback.New(st, orch, logger)
	api := storyapi.New(st, orch, ing)

	return &app{
		store:         st,
		orchestrator:  orch,
		sweeper:       sweeper,
		sweepInterval: sweeperConfig.Interval,
		api:           api,
		logger:        logger,
		closePostgres: closePostgres,
	}, nil
}

func (a *app) Close() {
	a.closePostgres()
}
