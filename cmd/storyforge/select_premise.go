package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fablepress/storyforge/internal/storymodel"
	"github.com/fablepress/storyforge/pkg/storyapi"
)

var (
	selectUser        string
	selectPremiseSet  string
	selectIndex       int
	selectTitle       string
	selectDescription string
	selectHook        string
	selectGenre       string
	selectThemes      string
)

var selectPremiseCmd = &cobra.Command{
	Use:   "select-premise",
	Short: "Create a story from a chosen premise and begin generation",
	Long: `select-premise resolves the reader's choice to a concrete premise,
creates the story, and enqueues it for background generation. It returns
immediately; use "status" to poll progress.

Choose one of two premise sources:
  --premise-set and --index  select one of three previously generated premises
  --title (with --description, --hook, --genre, --themes)  supply a custom premise`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if selectUser == "" {
			return fmt.Errorf("--user is required")
		}

		selection := storyapi.PremiseSelection{PremiseSetID: selectPremiseSet, Index: selectIndex}
		if selectTitle != "" {
			var themes []string
			if selectThemes != "" {
				themes = strings.Split(selectThemes, ",")
			}
			selection = storyapi.PremiseSelection{Custom: &storymodel.Premise{
				Title:       selectTitle,
				Description: selectDescription,
				Hook:        selectHook,
				Genre:       selectGenre,
				Themes:      themes,
			}}
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		storyID, err := a.api.SelectPremise(ctx, selectUser, selection)
		if err != nil {
			return fmt.Errorf("select-premise: %w", err)
		}
		fmt.Println(storyID)
		return nil
	},
}

func init() {
	selectPremiseCmd.Flags().StringVar(&selectUser, "user", "", "user ID (required)")
	selectPremiseCmd.Flags().StringVar(&selectPremiseSet, "premise-set", "", "ID of a previously generated premise set")
	selectPremiseCmd.Flags().IntVar(&selectIndex, "index", 0, "index (0-2) into the premise set")
	selectPremiseCmd.Flags().StringVar(&selectTitle, "title", "", "custom premise title (bypasses --premise-set)")
	selectPremiseCmd.Flags().StringVar(&selectDescription, "description", "", "custom premise description")
	selectPremiseCmd.Flags().StringVar(&selectHook, "hook", "", "custom premise hook")
	selectPremiseCmd.Flags().StringVar(&selectGenre, "genre", "", "custom premise genre")
	selectPremiseCmd.Flags().StringVar(&selectThemes, "themes", "", "comma-separated custom premise themes")
}
