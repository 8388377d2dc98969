package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	ephemeral bool
	model     string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "storyforge",
	Short: "Durable, resumable serialized-novel generation pipeline",
	Long: `storyforge drives a story through bible generation, arc planning, and
twelve chapters, pausing at three reader feedback checkpoints along the
way. Generation survives process restarts: every stage's state lives in
the store, never only in memory.

This CLI is the admin/test path: production callers drive the same
operations through pkg/storyapi.API.`,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&ephemeral, "ephemeral", false,
		"use an in-process memory store instead of Postgres (state does not survive process exit)")
	rootCmd.PersistentFlags().StringVar(&model, "model", "claude-3-5-sonnet-20241022",
		"model id passed to every generation stage")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level: debug, info, warn, error")

	rootCmd.AddCommand(selectPremiseCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(generateNextCmd)
	rootCmd.AddCommand(submitFeedbackCmd)
	rootCmd.AddCommand(skipCheckpointCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(serveCmd)
}

func newLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
