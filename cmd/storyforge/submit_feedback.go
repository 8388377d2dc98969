package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fablepress/storyforge/internal/storymodel"
)

var (
	feedbackUser       string
	feedbackStoryID    string
	feedbackCheckpoint string
	feedbackPacing     string
	feedbackTone       string
	feedbackCharacter  string
	feedbackText       string
)

var submitFeedbackCmd = &cobra.Command{
	Use:   "submit-feedback",
	Short: "Record reader feedback for a checkpoint and resume generation",
	Long: `submit-feedback accepts either dimensioned feedback (--pacing,
--tone, --character) or free-form feedback (--text). Legacy checkpoint
names (chapter_3, chapter_6, chapter_9) are normalized automatically.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if feedbackUser == "" || feedbackStoryID == "" || feedbackCheckpoint == "" {
			return fmt.Errorf("--user, --story, and --checkpoint are required")
		}

		var dimension *storymodel.DimensionFeedback
		var freeForm *storymodel.FreeFormFeedback
		switch {
		case feedbackText != "":
			freeForm = &storymodel.FreeFormFeedback{Text: feedbackText}
		case feedbackPacing != "" || feedbackTone != "" || feedbackCharacter != "":
			dimension = &storymodel.DimensionFeedback{Pacing: feedbackPacing, Tone: feedbackTone, Character: feedbackCharacter}
		default:
			return fmt.Errorf("supply either --text or --pacing/--tone/--character")
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.api.SubmitCheckpointFeedback(ctx, feedbackUser, feedbackStoryID, storymodel.Checkpoint(feedbackCheckpoint), dimension, freeForm)
		if err != nil {
			return fmt.Errorf("submit-feedback: %w", err)
		}
		fmt.Println(result)
		return nil
	},
}

func init() {
	submitFeedbackCmd.Flags().StringVar(&feedbackUser, "user", "", "user ID (required)")
	submitFeedbackCmd.Flags().StringVar(&feedbackStoryID, "story", "", "story ID (required)")
	submitFeedbackCmd.Flags().StringVar(&feedbackCheckpoint, "checkpoint", "", "checkpoint name, e.g. chapter_2 (required)")
	submitFeedbackCmd.Flags().StringVar(&feedbackPacing, "pacing", "", "dimensioned pacing rating")
	submitFeedbackCmd.Flags().StringVar(&feedbackTone, "tone", "", "dimensioned tone rating")
	submitFeedbackCmd.Flags().StringVar(&feedbackCharacter, "character", "", "dimensioned character rating")
	submitFeedbackCmd.Flags().StringVar(&feedbackText, "text", "", "free-form feedback text (alternative to dimensioned ratings)")
}
