package ranking

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"marketsnap/internal/market"
)

func entry(base string, value, change float64) Entry {
	return Entry{Symbol: market.NewSymbol(base, "USDT", market.Perp), Value: value, Change: change}
}

func manyEntries(n int) []Entry {
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, entry(fmt.Sprintf("S%03d", i), float64(i%17)/17, 0))
	}
	return out
}

func TestBuildFiltersNonFinite(t *testing.T) {
	r := Build([]Entry{
		entry("A", 0.5, 0),
		entry("B", math.NaN(), 0),
		entry("C", math.Inf(1), 0),
		entry("D", 0.1, math.NaN()),
		entry("E", 0.2, 0),
	}, 5)
	if r.Len() != 2 {
		t.Fatalf("期望保留 2 个, 实际 %d", r.Len())
	}
	if len(r.Rejected()) != 3 {
		t.Fatalf("期望拒绝 3 个, 实际 %d", len(r.Rejected()))
	}
	if got := r.Entries()[0].Symbol.Base; got != "E" {
		t.Fatalf("升序首位应为 E, 实际 %s", got)
	}
}

func TestBuildTieBreakBySymbol(t *testing.T) {
	r := Build([]Entry{entry("ZZZ", 1, 0), entry("AAA", 1, 0), entry("MMM", 1, 0)}, 3)
	var order []string
	for _, e := range r.Entries() {
		order = append(order, e.Symbol.Base)
	}
	if strings.Join(order, ",") != "AAA,MMM,ZZZ" {
		t.Fatalf("相同值应按 symbol 排序: %v", order)
	}
}

func TestSampleSizeIsRoundedLog(t *testing.T) {
	cases := map[int]int{0: 0, 1: 0, 2: 1, 3: 1, 4: 1, 5: 2, 20: 3, 100: 5, 400: 6}
	for n, want := range cases {
		if got := Build(manyEntries(n), n).SampleSize(); got != want {
			t.Fatalf("N=%d: 期望 %d, 实际 %d", n, want, got)
		}
	}
}

func TestTopBottomDisjoint(t *testing.T) {
	for _, n := range []int{10, 50, 300} {
		r := Build(manyEntries(n), n)
		k := r.SampleSize()
		top, bottom := r.Top(k), r.Bottom(k)
		if len(top) != k || len(bottom) != k {
			t.Fatalf("N=%d: top/bottom 长度应为 %d", n, k)
		}
		seen := make(map[market.Symbol]bool)
		for _, e := range top {
			seen[e.Symbol] = true
		}
		for _, e := range bottom {
			if seen[e.Symbol] {
				t.Fatalf("N=%d: %s 同时出现在 top 与 bottom", n, e.Symbol)
			}
		}
		if top[0].Value < top[len(top)-1].Value {
			t.Fatal("top 应从大到小")
		}
		if bottom[0].Value > bottom[len(bottom)-1].Value {
			t.Fatal("bottom 应从小到大")
		}
	}
}

func TestTopBottomClamp(t *testing.T) {
	r := Build([]Entry{entry("A", 1, 0)}, 1)
	if len(r.Top(5)) != 1 || len(r.Bottom(5)) != 1 || len(r.Top(-1)) != 0 {
		t.Fatal("k 应被限制在 [0, N]")
	}
}

func TestOutliersReport(t *testing.T) {
	r := Build([]Entry{
		entry("A", 0.2, 0.01),
		entry("B", 0.4, -0.02),
		entry("C", 0.6, 0),
		entry("1000PEPE", 0.8, 0.05),
	}, 6)

	report := r.Outliers(0, ReportOptions{Instrument: market.Perp})
	lines := strings.Split(report, "\n")
	if len(lines) != 5 {
		t.Fatalf("期望 5 行, 实际 %d:\n%s", len(lines), report)
	}
	if !strings.HasPrefix(lines[0], "Most Shorted (% longs)") || !strings.Contains(lines[0], "Most Longed (% longs)") {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "A") || !strings.Contains(lines[1], "PEPE") || !strings.Contains(lines[1], "80.00%") {
		t.Fatalf("unexpected row %q", lines[1])
	}
	if !strings.Contains(lines[1], "+ 1.00") || !strings.Contains(lines[1], "+ 5.00") {
		t.Fatalf("change 格式错误 %q", lines[1])
	}
	if lines[2] != strings.Repeat("-", DefaultColumnWidth) {
		t.Fatalf("unexpected rule %q", lines[2])
	}
	if lines[3] != "Average: 0.50" {
		t.Fatalf("unexpected average %q", lines[3])
	}
	if lines[4] != "Collected for 4/6 pairs on Binance/Perp" {
		t.Fatalf("unexpected coverage %q", lines[4])
	}
}

func TestOutliersRowsClampedToHalf(t *testing.T) {
	r := Build(manyEntries(6), 6)
	report := r.Outliers(10, ReportOptions{})
	// header + 3 rows + rule + average + coverage
	if got := len(strings.Split(report, "\n")); got != 7 {
		t.Fatalf("期望 7 行, 实际 %d", got)
	}
}

func TestOutliersEmpty(t *testing.T) {
	report := Build(nil, 10).Outliers(0, ReportOptions{})
	if !strings.Contains(report, "Average: n/a") || !strings.Contains(report, "Collected for 0/10 pairs") {
		t.Fatalf("unexpected empty report:\n%s", report)
	}
}

func TestShort(t *testing.T) {
	if got := Short(entry("DOGE", 0.3, 0)); got != "DOGE: 30%" {
		t.Fatalf("unexpected short render %q", got)
	}
}
