package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"marketsnap/internal/app"
)

var lsrOpts app.RatioOptions

var lsrCmd = &cobra.Command{
	Use:   "lsr [SYMBOL...]",
	Short: "Build the long/short ratio report once",
	Long:  "Build the long/short ratio report. With symbols or --search only the matching pairs are printed, e.g. \"DOGE: 30%\".",
	RunE: func(cmd *cobra.Command, args []string) error {
		if lsrOpts.Rows < 0 {
			return fmt.Errorf("--rows must not be negative")
		}
		opts := lsrOpts
		opts.Symbols = append(opts.Symbols, args...)
		return getApp().Ratios(cmd.Context(), opts)
	},
}

func init() {
	lsrCmd.Flags().StringVar(&lsrOpts.Timeframe, "timeframe", "", "Ratio period, e.g. 5m or 1h (defaults to config)")
	lsrCmd.Flags().IntVar(&lsrOpts.Bars, "bars", 0, "Number of observations to request (defaults to config)")
	lsrCmd.Flags().StringVar(&lsrOpts.Scope, "scope", "", "global or top (defaults to config)")
	lsrCmd.Flags().IntVar(&lsrOpts.Rows, "rows", 0, "Rows per column (defaults to config)")
	lsrCmd.Flags().StringSliceVar(&lsrOpts.Symbols, "symbols", nil, "Comma-separated pairs to look up")
	lsrCmd.Flags().StringVar(&lsrOpts.Search, "search", "", "Case-insensitive substring to look up")
}
