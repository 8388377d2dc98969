package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	generateNextStoryID string
	generateNextCount   int
)

var generateNextCmd = &cobra.Command{
	Use:   "generate-next",
	Short: "Manually drive generation forward by a fixed number of chapters",
	Long: `generate-next is the admin/test path for forcing a story forward
without waiting on the background worker pool. It stops early if the
story reaches a feedback checkpoint or a terminal state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if generateNextStoryID == "" {
			return fmt.Errorf("--story is required")
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		summaries, err := a.api.GenerateNext(ctx, generateNextStoryID, generateNextCount)
		if err != nil {
			return fmt.Errorf("generate-next: %w", err)
		}
		for _, s := range summaries {
			fmt.Printf("chapter %d: %q (%d words, quality %.1f)\n", s.ChapterNumber, s.Title, s.WordCount, s.QualityScore)
		}
		if len(summaries) == 0 {
			fmt.Println("no new chapters committed")
		}
		return nil
	},
}

func init() {
	generateNextCmd.Flags().StringVar(&generateNextStoryID, "story", "", "story ID (required)")
	generateNextCmd.Flags().IntVar(&generateNextCount, "count", 1, "number of additional chapters to generate")
}
