package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var (
	simulateShares []string
	simulateTotal  int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一份多空比报告并触发推送",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(simulateShares) == 0 {
			return errors.New("--share 至少需要一个 SYMBOL=占比")
		}
		shares := make(map[string]float64, len(simulateShares))
		for _, raw := range simulateShares {
			sym, value, ok := strings.Cut(raw, "=")
			if !ok {
				return fmt.Errorf("invalid --share %q, expected SYMBOL=0.55", raw)
			}
			share, err := strconv.ParseFloat(value, 64)
			if err != nil || share < 0 || share > 1 {
				return fmt.Errorf("invalid --share %q: 占比必须在 0 到 1 之间", raw)
			}
			shares[sym] = share
		}
		return getApp().SimulateAlert(cmd.Context(), shares, simulateTotal)
	},
}

func init() {
	simulateCmd.Flags().StringSliceVar(&simulateShares, "share", nil, "多头占比, 例如 DOGE=0.3,ETH=0.7")
	simulateCmd.Flags().IntVar(&simulateTotal, "total", 0, "universe 大小 (默认等于交易对数量)")
}
