package exchange

import (
	"context"
	"fmt"

	"marketsnap/internal/market"
)

// SymbolInfo is the subset of exchange metadata the universe resolver needs.
type SymbolInfo struct {
	Symbol       market.Symbol
	Status       string
	ContractType string
}

// Client 定义行情数据源接口，可在多个 goroutine 间共享只读使用。
type Client interface {
	Name() string
	ExchangeInfo(ctx context.Context, inst market.Instrument) ([]SymbolInfo, error)
	Klines(ctx context.Context, sym market.Symbol, tf market.Timeframe, rng market.RequestRange) (market.RawSeries, error)
	LongShortRatio(ctx context.Context, sym market.Symbol, tf market.Timeframe, rng market.RequestRange, scope market.RatioScope) ([]market.RatioPoint, error)
}

// APIError is a non-2xx response from the exchange.
type APIError struct {
	Status int
	Code   int
	Msg    string
}

func (e *APIError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("binance api error (%d, code %d): %s", e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("binance api error (%d)", e.Status)
}

// Retryable reports whether repeating the request may succeed.
func (e *APIError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}
