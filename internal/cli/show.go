package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"marketsnap/internal/app"
)

var (
	showLimit int
	showPanel string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent panel builds",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit: showLimit,
			Panel: showPanel,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of runs to display")
	showCmd.Flags().StringVar(&showPanel, "panel", "", "Only show runs of this panel (structure or lsr)")
}
