package panel

import (
	"strings"
	"time"

	"marketsnap/internal/market"
	"marketsnap/internal/ranking"
)

// RenderedRatio is the short lookup render of one symbol.
type RenderedRatio struct {
	Symbol string `json:"symbol"`
	Render string `json:"render"`
}

// Ratio is the long/short outlier report with per-symbol renders.
type Ratio struct {
	Report          string            `json:"report"`
	Scope           market.RatioScope `json:"scope"`
	Timeframe       string            `json:"timeframe"`
	Retained        int               `json:"retained"`
	Total           int               `json:"total"`
	CoverageWarning bool              `json:"coverage_warning"`
	CollectedAt     time.Time         `json:"collected_at"`
	Rendered        []RenderedRatio   `json:"rendered"`
}

// RatioOptions tune the ratio report.
type RatioOptions struct {
	Rows              int
	Scope             market.RatioScope
	Timeframe         market.Timeframe
	CollectedAt       time.Time
	CoverageThreshold float64
	Report            ranking.ReportOptions
}

// NewRatio renders the report for a ranking by latest long share.
func NewRatio(rank *ranking.Ranking, opts RatioOptions) *Ratio {
	if opts.CoverageThreshold <= 0 {
		opts.CoverageThreshold = DefaultCoverageThreshold
	}
	r := &Ratio{
		Report:          rank.Outliers(opts.Rows, opts.Report),
		Scope:           opts.Scope,
		Timeframe:       opts.Timeframe.Name,
		Retained:        rank.Len(),
		Total:           rank.Total(),
		CoverageWarning: rank.Total() > 0 && rank.Coverage() < opts.CoverageThreshold,
		CollectedAt:     opts.CollectedAt,
	}
	for _, e := range rank.Entries() {
		r.Rendered = append(r.Rendered, RenderedRatio{Symbol: e.Symbol.String(), Render: ranking.Short(e)})
	}
	return r
}

// Search returns renders containing query, case-insensitively.
func (r *Ratio) Search(query string) []RenderedRatio {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	var out []RenderedRatio
	for _, item := range r.Rendered {
		if strings.Contains(strings.ToLower(item.Render), query) {
			out = append(out, item)
		}
	}
	return out
}

// Select returns the renders of the given symbols in request order; unknown
// symbols are skipped.
func (r *Ratio) Select(symbols []market.Symbol) []RenderedRatio {
	index := make(map[string]RenderedRatio, len(r.Rendered))
	for _, item := range r.Rendered {
		index[item.Symbol] = item
	}
	var out []RenderedRatio
	for _, sym := range symbols {
		if item, ok := index[sym.String()]; ok {
			out = append(out, item)
		}
	}
	return out
}
