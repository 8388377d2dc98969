package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusStoryID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report a story's generation progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statusStoryID == "" {
			return fmt.Errorf("--story is required")
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.api.GenerationStatus(ctx, statusStoryID)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}

		fmt.Printf("status:             %s\n", status.Status)
		fmt.Printf("current_step:       %s\n", status.CurrentStep)
		fmt.Printf("chapters_available: %d\n", status.ChaptersAvailable)
		if status.Error != "" {
			fmt.Printf("error:              %s\n", status.Error)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusStoryID, "story", "", "story ID (required)")
}
