package series

import (
	"errors"
	"math"
	"testing"

	"marketsnap/internal/market"
)

func TestNormalizeAnchorsAtZero(t *testing.T) {
	inputs := [][]float64{
		{100, 110, 90},
		{0.000123, 0.0002},
		{3.3},
		{1e9, 1e9 + 1},
	}
	for _, closes := range inputs {
		got, err := Normalize(closes)
		if err != nil {
			t.Fatalf("normalize %v: %v", closes, err)
		}
		if got[0] != 0 {
			t.Fatalf("首个值必须严格为 0, 实际 %v", got[0])
		}
		if len(got) != len(closes) {
			t.Fatalf("长度应一致: %d vs %d", len(got), len(closes))
		}
	}
}

func TestNormalizeValues(t *testing.T) {
	got, err := Normalize([]float64{100, 200, 50})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got[1]-math.Ln2) > 1e-12 || math.Abs(got[2]+math.Ln2) > 1e-12 {
		t.Fatalf("unexpected log-returns %v", got)
	}
}

func TestNormalizeRejectsBadInput(t *testing.T) {
	if _, err := Normalize(nil); !errors.Is(err, ErrEmptySeries) {
		t.Fatalf("空序列应返回 ErrEmptySeries: %v", err)
	}
	for _, base := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if _, err := Normalize([]float64{base, 1}); !errors.Is(err, ErrInvalidBase) {
			t.Fatalf("首值 %v 应返回 ErrInvalidBase: %v", base, err)
		}
	}
}

func TestAlignDropsMismatched(t *testing.T) {
	btc := market.NewSymbol("BTC", "USDT", market.Perp)
	eth := market.NewSymbol("ETH", "USDT", market.Perp)
	fresh := market.NewSymbol("NEW", "USDT", market.Perp)

	kept, dropped := Align(map[market.Symbol][]float64{
		btc:   {0, 1, 2},
		eth:   {0, 1, 2},
		fresh: {0, 1},
	}, 3)

	if len(kept) != 2 {
		t.Fatalf("期望保留 2 个, 实际 %d", len(kept))
	}
	for sym, values := range kept {
		if len(values) != 3 {
			t.Fatalf("%s 长度应为 3", sym)
		}
	}
	if len(dropped) != 1 || dropped[0] != fresh {
		t.Fatalf("unexpected dropped %v", dropped)
	}
}

func TestNetChangeAndLast(t *testing.T) {
	if NetChange([]float64{0, 0.5, 0.25}) != 0.25 {
		t.Fatal("net change 计算错误")
	}
	if Last([]float64{0.4, 0.6}) != 0.6 {
		t.Fatal("last 计算错误")
	}
	if !math.IsNaN(NetChange(nil)) || !math.IsNaN(Last(nil)) {
		t.Fatal("空序列应返回 NaN")
	}
}
