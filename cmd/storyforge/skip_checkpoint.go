package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fablepress/storyforge/internal/storymodel"
)

var (
	skipUser       string
	skipStoryID    string
	skipCheckpoint string
)

var skipCheckpointCmd = &cobra.Command{
	Use:   "skip-checkpoint",
	Short: "Skip a feedback checkpoint and resume generation",
	RunE: func(cmd *cobra.Command, args []string) error {
		if skipUser == "" || skipStoryID == "" || skipCheckpoint == "" {
			return fmt.Errorf("--user, --story, and --checkpoint are required")
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.api.SkipCheckpoint(ctx, skipUser, skipStoryID, storymodel.Checkpoint(skipCheckpoint)); err != nil {
			return fmt.Errorf("skip-checkpoint: %w", err)
		}
		fmt.Println("ok")
		return nil
	},
}

func init() {
	skipCheckpointCmd.Flags().StringVar(&skipUser, "user", "", "user ID (required)")
	skipCheckpointCmd.Flags().StringVar(&skipStoryID, "story", "", "story ID (required)")
	skipCheckpointCmd.Flags().StringVar(&skipCheckpoint, "checkpoint", "", "checkpoint name, e.g. chapter_2 (required)")
}
