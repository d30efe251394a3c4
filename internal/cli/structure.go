package cli

import (
	"github.com/spf13/cobra"

	"marketsnap/internal/app"
)

var structureOpts app.StructureOptions

var structureCmd = &cobra.Command{
	Use:   "structure",
	Short: "Build the market-structure panel once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Structure(cmd.Context(), structureOpts)
	},
}

func init() {
	structureCmd.Flags().StringVar(&structureOpts.Timeframe, "timeframe", "", "Bar timeframe, e.g. 5m or 1h (defaults to config)")
	structureCmd.Flags().IntVar(&structureOpts.Bars, "bars", 0, "Number of bars to request (defaults to config)")
	structureCmd.Flags().StringVar(&structureOpts.Instrument, "instrument", "", "spot or perp (defaults to config)")
	structureCmd.Flags().StringVar(&structureOpts.JSONPath, "json", "", "Path to write the chart payload as JSON")
	structureCmd.Flags().StringVar(&structureOpts.PNGPath, "png", "", "Path to write the chart as PNG")
	structureCmd.Flags().BoolVar(&structureOpts.NoCache, "no-cache", false, "Ignore a fresh cached snapshot")
}
