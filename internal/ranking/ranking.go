package ranking

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"marketsnap/internal/market"
)

// DefaultColumnWidth is the fixed width of one outlier column.
const DefaultColumnWidth = 30

// Entry is one ranked symbol. Value drives the order; Change is the move
// over the window shown next to it.
type Entry struct {
	Symbol market.Symbol
	Value  float64
	Change float64
}

// Ranking holds finite entries sorted ascending by Value.
type Ranking struct {
	entries  []Entry
	rejected []Entry
	total    int
}

// Build drops non-finite entries and sorts the rest. total is the full
// universe size used for coverage.
func Build(entries []Entry, total int) *Ranking {
	r := &Ranking{total: total}
	for _, e := range entries {
		if !finite(e.Value) || !finite(e.Change) {
			r.rejected = append(r.rejected, e)
			continue
		}
		r.entries = append(r.entries, e)
	}
	sort.SliceStable(r.entries, func(i, j int) bool {
		a, b := r.entries[i], r.entries[j]
		if a.Value != b.Value {
			return a.Value < b.Value
		}
		return a.Symbol.String() < b.Symbol.String()
	})
	return r
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Len is the retained count.
func (r *Ranking) Len() int { return len(r.entries) }

// Total is the full universe size.
func (r *Ranking) Total() int { return r.total }

// Entries returns the ascending order.
func (r *Ranking) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Rejected returns entries dropped for non-finite values.
func (r *Ranking) Rejected() []Entry {
	return r.rejected
}

// Lookup finds the entry for sym.
func (r *Ranking) Lookup(sym market.Symbol) (Entry, bool) {
	for _, e := range r.entries {
		if e.Symbol == sym {
			return e, true
		}
	}
	return Entry{}, false
}

// SampleSize 取 round(ln N)，样本随 universe 缓慢增长。
func (r *Ranking) SampleSize() int {
	n := len(r.entries)
	if n <= 1 {
		return 0
	}
	return int(math.Round(math.Log(float64(n))))
}

// Top returns up to k entries, largest first.
func (r *Ranking) Top(k int) []Entry {
	k = clamp(k, len(r.entries))
	out := make([]Entry, 0, k)
	for i := len(r.entries) - 1; i >= len(r.entries)-k; i-- {
		out = append(out, r.entries[i])
	}
	return out
}

// Bottom returns up to k entries, smallest first.
func (r *Ranking) Bottom(k int) []Entry {
	k = clamp(k, len(r.entries))
	out := make([]Entry, k)
	copy(out, r.entries[:k])
	return out
}

func clamp(k, n int) int {
	if k < 0 {
		return 0
	}
	if k > n {
		return n
	}
	return k
}

// Coverage is retained over total; 0 when total is unknown.
func (r *Ranking) Coverage() float64 {
	if r.total <= 0 {
		return 0
	}
	return float64(len(r.entries)) / float64(r.total)
}

// CoverageString renders X/Y.
func (r *Ranking) CoverageString() string {
	return fmt.Sprintf("%d/%d", len(r.entries), r.total)
}

// Average of all retained values; NaN when empty.
func (r *Ranking) Average() float64 {
	if len(r.entries) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, e := range r.entries {
		sum += e.Value
	}
	return sum / float64(len(r.entries))
}

// ReportOptions control the outlier text.
type ReportOptions struct {
	LowTitle    string
	HighTitle   string
	Exchange    string
	Instrument  market.Instrument
	ColumnWidth int
}

func (o ReportOptions) withDefaults() ReportOptions {
	if o.LowTitle == "" {
		o.LowTitle = "Most Shorted (% longs)"
	}
	if o.HighTitle == "" {
		o.HighTitle = "Most Longed (% longs)"
	}
	if o.Exchange == "" {
		o.Exchange = "Binance"
	}
	if o.Instrument == "" {
		o.Instrument = market.Perp
	}
	if o.ColumnWidth <= 0 {
		o.ColumnWidth = DefaultColumnWidth
	}
	return o
}

// Outliers renders the two-column report. rows <= 0 uses SampleSize; rows
// never exceed half the retained count so the columns stay disjoint.
func (r *Ranking) Outliers(rows int, opts ReportOptions) string {
	opts = opts.withDefaults()
	if rows <= 0 {
		rows = r.SampleSize()
	}
	rows = clamp(rows, len(r.entries)/2)

	var b strings.Builder
	if rows > 0 {
		b.WriteString(pad(opts.LowTitle, opts.ColumnWidth))
		b.WriteString(pad(opts.HighTitle, opts.ColumnWidth))
	}
	low := r.Bottom(rows)
	high := r.Top(rows)
	for i := 0; i < rows; i++ {
		b.WriteByte('\n')
		b.WriteString(pad(Cell(low[i]), opts.ColumnWidth))
		b.WriteString(pad(Cell(high[i]), opts.ColumnWidth))
	}

	b.WriteByte('\n')
	b.WriteString(strings.Repeat("-", opts.ColumnWidth))
	if avg := r.Average(); finite(avg) {
		fmt.Fprintf(&b, "\nAverage: %.2f", avg)
	} else {
		b.WriteString("\nAverage: n/a")
	}
	fmt.Fprintf(&b, "\nCollected for %s pairs on %s/%s", r.CoverageString(), opts.Exchange, opts.Instrument)
	return b.String()
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s + " "
	}
	return s + strings.Repeat(" ", width-len(s))
}

// Cell renders one outlier row cell: symbol, value in percent and the signed
// change in percentage points.
func Cell(e Entry) string {
	return fmt.Sprintf("%-8s%6s%% %s%5s", e.Symbol.Display(), Percent(e.Value), Sign(e.Change), Percent(math.Abs(e.Change)))
}

// Short renders an entry for lookup, e.g. "DOGE: 30%".
func Short(e Entry) string {
	if !finite(e.Value) {
		return e.Symbol.Display() + ": n/a"
	}
	return fmt.Sprintf("%s: %s%%", e.Symbol.Display(), decimal.NewFromFloat(e.Value*100).Round(0).String())
}

// Percent formats a fraction as a percentage with two decimals.
func Percent(v float64) string {
	if !finite(v) {
		return "n/a"
	}
	return decimal.NewFromFloat(v * 100).StringFixed(2)
}

// Sign is "+" for non-negative values.
func Sign(v float64) string {
	if v >= 0 {
		return "+"
	}
	return "-"
}
