package market

import (
	"fmt"
	"strings"
	"time"
)

// Instrument 区分现货与 USDT 本位永续。
type Instrument string

const (
	Spot Instrument = "spot"
	Perp Instrument = "perp"
)

// ParseInstrument accepts spot/perp and the common futures aliases.
func ParseInstrument(s string) (Instrument, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spot":
		return Spot, nil
	case "perp", "perps", "perpetual", "futures", "usdm":
		return Perp, nil
	default:
		return "", fmt.Errorf("unknown instrument %q", s)
	}
}

// String renders the instrument for titles and reports.
func (i Instrument) String() string {
	switch i {
	case Spot:
		return "Spot"
	case Perp:
		return "Perp"
	default:
		return string(i)
	}
}

// Symbol is an exchange-qualified trading pair.
type Symbol struct {
	Base       string
	Quote      string
	Instrument Instrument
}

// NewSymbol normalises asset case.
func NewSymbol(base, quote string, inst Instrument) Symbol {
	return Symbol{
		Base:       strings.ToUpper(strings.TrimSpace(base)),
		Quote:      strings.ToUpper(strings.TrimSpace(quote)),
		Instrument: inst,
	}
}

// ParseSymbol parses BASE-QUOTE (also BASE/QUOTE and BASE_QUOTE).
func ParseSymbol(s string, inst Instrument) (Symbol, error) {
	cleaned := strings.TrimSpace(s)
	for _, sep := range []string{"-", "/", "_"} {
		if base, quote, ok := strings.Cut(cleaned, sep); ok {
			if base == "" || quote == "" {
				break
			}
			return NewSymbol(base, quote, inst), nil
		}
	}
	return Symbol{}, fmt.Errorf("invalid symbol %q, expected BASE-QUOTE", s)
}

// String returns the pair form, e.g. BTC-USDT.
func (s Symbol) String() string {
	return s.Base + "-" + s.Quote
}

// Ticker returns the exchange form, e.g. BTCUSDT.
func (s Symbol) Ticker() string {
	return s.Base + s.Quote
}

// Display 用于图例：USDT 报价省略，去掉 1000 倍数前缀。
func (s Symbol) Display() string {
	base := strings.TrimPrefix(s.Base, "1000")
	if base == "" {
		base = s.Base
	}
	if s.Quote == "USDT" {
		return base
	}
	return base + "/" + s.Quote
}

// Kline is a single historical bar.
type Kline struct {
	OpenTime    time.Time
	Open        float64
	High        float64
	Low         float64
	Close       float64
	QuoteVolume float64
}

// RawSeries is an ordered run of bars for one symbol.
type RawSeries []Kline

// Closes extracts close prices.
func (r RawSeries) Closes() []float64 {
	out := make([]float64, len(r))
	for i, k := range r {
		out[i] = k.Close
	}
	return out
}

// OpenTimes extracts the bar open times.
func (r RawSeries) OpenTimes() []time.Time {
	out := make([]time.Time, len(r))
	for i, k := range r {
		out[i] = k.OpenTime
	}
	return out
}

// RatioScope selects whose positioning the ratio describes.
type RatioScope string

const (
	ScopeGlobal RatioScope = "global"
	ScopeTop    RatioScope = "top"
)

// ParseRatioScope validates a scope name.
func ParseRatioScope(s string) (RatioScope, error) {
	switch RatioScope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeGlobal, "":
		return ScopeGlobal, nil
	case ScopeTop:
		return ScopeTop, nil
	default:
		return "", fmt.Errorf("unknown ratio scope %q", s)
	}
}

// RatioPoint is one long/short observation.
type RatioPoint struct {
	Time           time.Time
	LongShortRatio float64
	LongAccount    float64
	ShortAccount   float64
}

// LongShares extracts the long-account share of each point.
func LongShares(points []RatioPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.LongAccount
	}
	return out
}
