package panel

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"marketsnap/internal/cache"
	"marketsnap/internal/market"
	"marketsnap/internal/ranking"
)

// DefaultCoverageThreshold 覆盖率低于该值时标题提示数据不完整。
const DefaultCoverageThreshold = 0.7

// Trace colours.
const (
	ColorAnchor = "#ffd700"
	ColorMuted  = "#808080"
)

// Trace widths.
const (
	WidthAnchor  = 3.5
	WidthOutlier = 2.0
	WidthMuted   = 1.0
)

// Trace is one line of the structure chart. An empty Color means the
// renderer picks one from its palette.
type Trace struct {
	Symbol string    `json:"symbol"`
	Label  string    `json:"label,omitempty"`
	Color  string    `json:"color,omitempty"`
	Width  float64   `json:"width"`
	Values []float64 `json:"values"`
}

// Structure is the embeddable market-structure chart payload.
type Structure struct {
	Title           string            `json:"title"`
	Hours           int64             `json:"hours"`
	Retained        int               `json:"retained"`
	Total           int               `json:"total"`
	Instrument      market.Instrument `json:"instrument"`
	Timeframe       string            `json:"timeframe"`
	CoverageWarning bool              `json:"coverage_warning"`
	CollectedAt     time.Time         `json:"collected_at"`
	TimeIndex       []time.Time       `json:"time_index"`
	Traces          []Trace           `json:"traces"`
}

// StructureOptions tune the payload.
type StructureOptions struct {
	Anchor            market.Symbol
	AnchorLabel       string
	CoverageThreshold float64
}

// NewStructure builds the chart payload from a snapshot and its ranking by
// net change.
func NewStructure(snap *cache.Snapshot, rank *ranking.Ranking, opts StructureOptions) (*Structure, error) {
	if snap == nil || rank == nil {
		return nil, errors.New("panel: snapshot and ranking are required")
	}
	if len(snap.TimeIndex) == 0 {
		return nil, errors.New("panel: empty time index")
	}
	if opts.AnchorLabel == "" {
		opts.AnchorLabel = "~" + opts.Anchor.Display() + "~"
	}
	if opts.CoverageThreshold <= 0 {
		opts.CoverageThreshold = DefaultCoverageThreshold
	}

	tf := snap.Params.Timeframe
	hours := Hours(snap.TimeIndex, tf)
	p := &Structure{
		Hours:           hours,
		Retained:        rank.Len(),
		Total:           rank.Total(),
		Instrument:      snap.Params.Instrument,
		Timeframe:       tf.Name,
		CoverageWarning: rank.Total() > 0 && rank.Coverage() < opts.CoverageThreshold,
		CollectedAt:     snap.CollectedAt,
		TimeIndex:       snap.TimeIndex,
	}
	p.Title = fmt.Sprintf("Last %dh of %s pairs on %s", hours, rank.CoverageString(), snap.Params.Instrument)

	k := rank.SampleSize()
	top, bottom := rank.Top(k), rank.Bottom(k)
	labeled := make(map[string]bool, len(top)+len(bottom)+1)
	anchorKey := opts.Anchor.String()
	labeled[anchorKey] = true
	for _, e := range top {
		labeled[e.Symbol.String()] = true
	}
	for _, e := range bottom {
		labeled[e.Symbol.String()] = true
	}

	// muted traces first so highlighted ones are drawn on top
	muted := make([]string, 0, len(snap.NormalizedSeries))
	for key := range snap.NormalizedSeries {
		if !labeled[key] {
			muted = append(muted, key)
		}
	}
	sort.Strings(muted)
	for _, key := range muted {
		if _, ok := rank.Lookup(mustSymbol(key, snap.Params.Instrument)); !ok {
			continue
		}
		p.Traces = append(p.Traces, Trace{Symbol: key, Color: ColorMuted, Width: WidthMuted, Values: snap.NormalizedSeries[key]})
	}

	for _, e := range top {
		if e.Symbol.String() == anchorKey {
			continue
		}
		p.Traces = append(p.Traces, labeledTrace(snap, e, e.Symbol.Display(), "", WidthOutlier))
	}
	if anchor, ok := rank.Lookup(opts.Anchor); ok {
		p.Traces = append(p.Traces, labeledTrace(snap, anchor, opts.AnchorLabel, ColorAnchor, WidthAnchor))
	}
	for i := len(bottom) - 1; i >= 0; i-- {
		e := bottom[i]
		if e.Symbol.String() == anchorKey {
			continue
		}
		p.Traces = append(p.Traces, labeledTrace(snap, e, e.Symbol.Display(), "", WidthOutlier))
	}
	return p, nil
}

func labeledTrace(snap *cache.Snapshot, e ranking.Entry, name, color string, width float64) Trace {
	key := e.Symbol.String()
	return Trace{
		Symbol: key,
		Label:  Legend(name, e.Value),
		Color:  color,
		Width:  width,
		Values: snap.NormalizedSeries[key],
	}
}

func mustSymbol(key string, inst market.Instrument) market.Symbol {
	sym, err := market.ParseSymbol(key, inst)
	if err != nil {
		return market.Symbol{}
	}
	return sym
}

// Legend renders "{name:<5}{sign}{pct:>5}%".
func Legend(name string, change float64) string {
	return fmt.Sprintf("%-5s%s%5s%%", name, ranking.Sign(change), ranking.Percent(abs(change)))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Hours covered by the index: |last - first| plus two bars, truncated.
func Hours(index []time.Time, tf market.Timeframe) int64 {
	if len(index) == 0 {
		return 0
	}
	span := index[len(index)-1].Sub(index[0])
	if span < 0 {
		span = -span
	}
	span += 2 * tf.Duration
	return int64(span / time.Hour)
}
