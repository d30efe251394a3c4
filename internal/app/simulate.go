package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"marketsnap/internal/alerting"
	"marketsnap/internal/market"
	"marketsnap/internal/ranking"
)

// SimulateAlert 用给定的多头占比伪造一份多空比报告并走一次推送流程，用于验证告警通道。
func (a *App) SimulateAlert(ctx context.Context, shares map[string]float64, total int) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	entries := make([]ranking.Entry, 0, len(shares))
	for raw, share := range shares {
		sym, err := parseSymbolArg(raw, a.Config.Exchange.QuoteAsset)
		if err != nil {
			return err
		}
		entries = append(entries, ranking.Entry{Symbol: sym, Value: share, Change: 0})
	}
	if total < len(entries) {
		total = len(entries)
	}
	rank := ranking.Build(entries, total)

	coverage := decimal.Zero
	if total > 0 {
		coverage = decimal.NewFromInt(int64(rank.Len())).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(int64(total))).Round(2)
	}
	threshold := a.Config.Ratio.CoverageThreshold

	note := alerting.Notification{
		Panel:           "lsr",
		Title:           fmt.Sprintf("Simulated long/short ratio (%s)", market.ScopeGlobal),
		CollectedAt:     time.Now().UTC(),
		Retained:        rank.Len(),
		Total:           rank.Total(),
		CoveragePct:     coverage,
		CoverageWarning: rank.Total() > 0 && rank.Coverage() < threshold,
		Body:            rank.Outliers(0, ranking.ReportOptions{}),
		Channels:        a.Config.Alerting.Channels,
	}
	if err := notifier.Notify(ctx, note); err != nil {
		return err
	}
	fmt.Fprintln(a.out, note.Body)
	return nil
}
