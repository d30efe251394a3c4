package collector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"marketsnap/internal/market"
)

type missList struct {
	mu   sync.Mutex
	syms []market.Symbol
}

func (m *missList) Record(sym market.Symbol) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syms = append(m.syms, sym)
}

func sym(base string) market.Symbol {
	return market.NewSymbol(base, "USDT", market.Perp)
}

func TestCollectSortsOutcomes(t *testing.T) {
	btc, eth, xyz, nil0 := sym("BTC"), sym("ETH"), sym("XYZ"), sym("NIL")
	misses := &missList{}

	fetch := func(ctx context.Context, s market.Symbol) ([]float64, error) {
		switch s {
		case xyz:
			return nil, errors.New("boom")
		case nil0:
			return nil, nil
		default:
			return []float64{1, 2, 3}, nil
		}
	}

	res, err := Collect(context.Background(), []market.Symbol{eth, xyz, btc, nil0}, fetch, Options{
		Panel:  "test",
		Anchor: &btc,
		Misses: misses,
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if res.Successes() != 2 {
		t.Fatalf("期望 2 个成功, 实际 %d", res.Successes())
	}
	if _, ok := res.Failed[xyz]; !ok || len(res.Failed) != 1 {
		t.Fatalf("XYZ 应记为失败: %v", res.Failed)
	}
	if len(misses.syms) != 1 || misses.syms[0] != nil0 {
		t.Fatalf("空结果应记录为 soft miss: %v", misses.syms)
	}
	if len(res.Empty) != 1 {
		t.Fatalf("unexpected empty list %v", res.Empty)
	}
	if got := res.SuccessRate(); got != 0.5 {
		t.Fatalf("成功率应为 0.5, 实际 %v", got)
	}
}

func TestCollectAnchorFailureIsFatal(t *testing.T) {
	btc := sym("BTC")
	symbols := []market.Symbol{sym("A"), sym("B"), btc, sym("C")}

	fetch := func(ctx context.Context, s market.Symbol) ([]float64, error) {
		if s == btc {
			return nil, errors.New("upstream 500")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return []float64{1}, nil
		}
	}

	start := time.Now()
	_, err := Collect(context.Background(), symbols, fetch, Options{Anchor: &btc, Logger: zerolog.Nop()})
	if !errors.Is(err, ErrAnchorMissing) {
		t.Fatalf("期望 ErrAnchorMissing, 实际 %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("anchor 失败后应取消其余请求")
	}
}

func TestCollectAnchorEmptyIsFatal(t *testing.T) {
	btc := sym("BTC")
	misses := &missList{}
	fetch := func(ctx context.Context, s market.Symbol) ([]float64, error) {
		if s == btc {
			return []float64{}, nil
		}
		return []float64{1}, nil
	}
	_, err := Collect(context.Background(), []market.Symbol{btc, sym("ETH")}, fetch, Options{
		Anchor: &btc,
		Misses: misses,
		Logger: zerolog.Nop(),
	})
	if !errors.Is(err, ErrAnchorMissing) {
		t.Fatalf("期望 ErrAnchorMissing, 实际 %v", err)
	}
	for _, s := range misses.syms {
		if s == btc {
			t.Fatal("anchor 不应写入 no-data 列表")
		}
	}
}

func TestCollectAnchorNotInList(t *testing.T) {
	btc := sym("BTC")
	called := false
	fetch := func(ctx context.Context, s market.Symbol) ([]float64, error) {
		called = true
		return []float64{1}, nil
	}
	_, err := Collect(context.Background(), []market.Symbol{sym("ETH")}, fetch, Options{Anchor: &btc, Logger: zerolog.Nop()})
	if !errors.Is(err, ErrAnchorMissing) {
		t.Fatalf("期望 ErrAnchorMissing, 实际 %v", err)
	}
	if called {
		t.Fatal("anchor 缺失时不应发起任何请求")
	}
}

func TestCollectRespectsMaxInFlight(t *testing.T) {
	var current, peak int32
	fetch := func(ctx context.Context, s market.Symbol) ([]float64, error) {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return []float64{1}, nil
	}

	var symbols []market.Symbol
	for _, b := range []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"} {
		symbols = append(symbols, sym(b))
	}
	res, err := Collect(context.Background(), symbols, fetch, Options{MaxInFlight: 3, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	if res.Successes() != len(symbols) {
		t.Fatalf("全部应成功, 实际 %d", res.Successes())
	}
	if peak > 3 {
		t.Fatalf("并发峰值 %d 超过上限 3", peak)
	}
}

func TestCollectParentCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	fetch := func(ctx context.Context, s market.Symbol) ([]float64, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	_, err := Collect(ctx, []market.Symbol{sym("A"), sym("B")}, fetch, Options{Logger: zerolog.Nop()})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("外部超时应传播, 实际 %v", err)
	}
}

func TestSuccessRateUsesUniverseSize(t *testing.T) {
	fetch := func(ctx context.Context, s market.Symbol) ([]float64, error) {
		return []float64{1}, nil
	}
	res, err := Collect(context.Background(), []market.Symbol{sym("A")}, fetch, Options{UniverseSize: 4, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	if res.SuccessRate() != 0.25 {
		t.Fatalf("成功率应按原始 universe 计算, 实际 %v", res.SuccessRate())
	}
}
