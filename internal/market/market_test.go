package market

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseSymbol(t *testing.T) {
	cases := map[string]string{
		"BTC-USDT":  "BTC-USDT",
		"eth/usdt":  "ETH-USDT",
		" SOL_USDT": "SOL-USDT",
	}
	for in, want := range cases {
		sym, err := ParseSymbol(in, Perp)
		if err != nil {
			t.Fatalf("解析 %q 失败: %v", in, err)
		}
		if sym.String() != want {
			t.Fatalf("期望 %s, 实际 %s", want, sym.String())
		}
	}

	if _, err := ParseSymbol("BTCUSDT", Perp); err == nil {
		t.Fatal("缺少分隔符应报错")
	}
	if _, err := ParseSymbol("-USDT", Perp); err == nil {
		t.Fatal("缺少 base 应报错")
	}
}

func TestSymbolDisplay(t *testing.T) {
	if got := NewSymbol("1000PEPE", "USDT", Perp).Display(); got != "PEPE" {
		t.Fatalf("expected PEPE, got %s", got)
	}
	if got := NewSymbol("ETH", "BTC", Spot).Display(); got != "ETH/BTC" {
		t.Fatalf("expected ETH/BTC, got %s", got)
	}
	if got := NewSymbol("BTC", "USDT", Spot).Ticker(); got != "BTCUSDT" {
		t.Fatalf("expected BTCUSDT, got %s", got)
	}
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("5M")
	if err != nil {
		t.Fatalf("5M 应可解析: %v", err)
	}
	if tf.Duration != 5*time.Minute || tf.Name != "5m" {
		t.Fatalf("unexpected timeframe %+v", tf)
	}
	if _, err := ParseTimeframe("7m"); err == nil {
		t.Fatal("7m 不应被接受")
	}
}

func TestTimeframeJSON(t *testing.T) {
	params := CollectionParams{Timeframe: MustTimeframe("1h"), Range: RequestRange{Bars: 24}, Instrument: Perp}
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded CollectionParams
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.Equal(params) || decoded.Timeframe.Duration != time.Hour {
		t.Fatalf("round trip mismatch: %s", raw)
	}
}

func TestParamsHashStable(t *testing.T) {
	a := CollectionParams{Timeframe: MustTimeframe("5m"), Range: RequestRange{Bars: 289}, Instrument: Perp}
	b := CollectionParams{Timeframe: MustTimeframe("5m"), Range: RequestRange{Bars: 289}, Instrument: Perp}
	c := CollectionParams{Timeframe: MustTimeframe("5m"), Range: RequestRange{Bars: 289}, Instrument: Spot}
	if a.Hash() != b.Hash() {
		t.Fatal("相同参数哈希应一致")
	}
	if a.Hash() == c.Hash() {
		t.Fatal("不同 instrument 哈希不应相同")
	}
}

func TestParseInstrument(t *testing.T) {
	inst, err := ParseInstrument("Futures")
	if err != nil || inst != Perp {
		t.Fatalf("futures 应映射为 perp: %v %v", inst, err)
	}
	if _, err := ParseInstrument("options"); err == nil {
		t.Fatal("options 不应被接受")
	}
}
