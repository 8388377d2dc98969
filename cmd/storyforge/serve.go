package main

import (
	"time"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background worker pool and self-healing sweeper",
	Long: `serve starts the task queue worker pool that advances enqueued
stories and runs the sweeper on its configured interval. It blocks until
interrupted (SIGINT/SIGTERM), at which point the worker pool is cancelled
and serve waits for running tasks to return before exiting; tasks still
waiting in the queue are not run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		a.orchestrator.Start(ctx)
		defer a.orchestrator.Stop()

		ticker := time.NewTicker(a.sweepInterval)
		defer ticker.Stop()

		// Sweep once at startup so a crash-and-restart doesn't wait a full
		// interval before picking recovery back up.
		if err := a.sweeper.Sweep(ctx); err != nil {
			a.logger.Error("startup sweep failed", "error", err)
		}

		for {
			select {
			case <-ctx.Done():
				a.logger.Info("serve shutting down")
				return nil
			case <-ticker.C:
				if err := a.sweeper.Sweep(ctx); err != nil {
					a.logger.Error("sweep failed", "error", err)
				}
			}
		}
	},
}
