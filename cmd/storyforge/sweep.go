package main

import (
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one self-healing sweep pass over stalled stories",
	Long: `sweep lists stories stuck in error or a stale generating_* step,
applies the circuit breaker, and re-invokes generation for everything
still worth retrying. This is the same pass "serve" runs on a fixed
interval; use this command to trigger it on demand.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.sweeper.Sweep(ctx)
	},
}
