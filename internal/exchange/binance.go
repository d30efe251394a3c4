package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"marketsnap/internal/market"
)

const (
	defaultSpotBaseURL    = "https://api.binance.com"
	defaultFuturesBaseURL = "https://fapi.binance.com"
	defaultUserAgent      = "marketsnap/1.0"
)

// BinanceOptions parameterise the Binance REST client.
type BinanceOptions struct {
	SpotBaseURL    string
	FuturesBaseURL string
	Timeout        time.Duration
	MaxTries       int
	RetryBackoff   time.Duration
	UserAgent      string
}

// Binance talks to the public spot and USDT-M futures REST APIs.
type Binance struct {
	opts    BinanceOptions
	logger  zerolog.Logger
	client  *http.Client
	spot    string
	futures string
}

// NewBinance constructs a Binance client.
func NewBinance(opts BinanceOptions, logger zerolog.Logger) *Binance {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxTries <= 0 {
		opts.MaxTries = 3
	}
	if opts.RetryBackoff < 0 {
		opts.RetryBackoff = 0
	}

	spot := strings.TrimRight(opts.SpotBaseURL, "/")
	if spot == "" {
		spot = defaultSpotBaseURL
	}
	futures := strings.TrimRight(opts.FuturesBaseURL, "/")
	if futures == "" {
		futures = defaultFuturesBaseURL
	}

	return &Binance{
		opts:    opts,
		logger:  logger.With().Str("component", "binance").Logger(),
		client:  &http.Client{Timeout: opts.Timeout},
		spot:    spot,
		futures: futures,
	}
}

// Name identifies the exchange in coverage lines.
func (b *Binance) Name() string { return "Binance" }

// ExchangeInfo lists the symbols currently known to the exchange.
func (b *Binance) ExchangeInfo(ctx context.Context, inst market.Instrument) ([]SymbolInfo, error) {
	base, path, err := b.route(inst, "/api/v3/exchangeInfo", "/fapi/v1/exchangeInfo")
	if err != nil {
		return nil, err
	}

	var resp exchangeInfoResponse
	if err := b.getJSON(ctx, base+path, nil, &resp); err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}

	infos := make([]SymbolInfo, 0, len(resp.Symbols))
	for _, s := range resp.Symbols {
		if s.BaseAsset == "" || s.QuoteAsset == "" {
			continue
		}
		infos = append(infos, SymbolInfo{
			Symbol:       market.NewSymbol(s.BaseAsset, s.QuoteAsset, inst),
			Status:       s.Status,
			ContractType: s.ContractType,
		})
	}
	return infos, nil
}

// Klines fetches the most recent rng.Bars bars of sym.
func (b *Binance) Klines(ctx context.Context, sym market.Symbol, tf market.Timeframe, rng market.RequestRange) (market.RawSeries, error) {
	base, path, err := b.route(sym.Instrument, "/api/v3/klines", "/fapi/v1/klines")
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("symbol", sym.Ticker())
	query.Set("interval", tf.Name)
	query.Set("limit", strconv.Itoa(rng.Bars))

	var rows [][]json.RawMessage
	if err := b.getJSON(ctx, base+path, query, &rows); err != nil {
		return nil, fmt.Errorf("klines %s: %w", sym, err)
	}

	series := make(market.RawSeries, 0, len(rows))
	for i, row := range rows {
		k, err := decodeKline(row)
		if err != nil {
			return nil, fmt.Errorf("decode kline %d of %s: %w", i, sym, err)
		}
		series = append(series, k)
	}
	return series, nil
}

// LongShortRatio fetches the long/short account ratio history. Perps only.
func (b *Binance) LongShortRatio(ctx context.Context, sym market.Symbol, tf market.Timeframe, rng market.RequestRange, scope market.RatioScope) ([]market.RatioPoint, error) {
	if sym.Instrument != market.Perp {
		return nil, fmt.Errorf("long/short ratio is only published for perps, got %s", sym.Instrument)
	}

	path := "/futures/data/globalLongShortAccountRatio"
	if scope == market.ScopeTop {
		path = "/futures/data/topLongShortPositionRatio"
	}

	query := url.Values{}
	query.Set("symbol", sym.Ticker())
	query.Set("period", tf.Name)
	query.Set("limit", strconv.Itoa(rng.Bars))

	var records []ratioRecord
	if err := b.getJSON(ctx, b.futures+path, query, &records); err != nil {
		return nil, fmt.Errorf("long/short ratio %s: %w", sym, err)
	}

	points := make([]market.RatioPoint, 0, len(records))
	for _, r := range records {
		points = append(points, market.RatioPoint{
			Time:           time.UnixMilli(int64(r.Timestamp)).UTC(),
			LongShortRatio: float64(r.LongShortRatio),
			LongAccount:    float64(r.LongAccount),
			ShortAccount:   float64(r.ShortAccount),
		})
	}
	return points, nil
}

func (b *Binance) route(inst market.Instrument, spotPath, futuresPath string) (string, string, error) {
	switch inst {
	case market.Spot:
		return b.spot, spotPath, nil
	case market.Perp:
		return b.futures, futuresPath, nil
	default:
		return "", "", fmt.Errorf("unsupported instrument %q", inst)
	}
}

// getJSON 带有限次数重试地执行 GET 请求并解码响应。
func (b *Binance) getJSON(ctx context.Context, endpoint string, query url.Values, dest any) error {
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= b.opts.MaxTries; attempt++ {
		if attempt > 1 {
			wait := b.opts.RetryBackoff * time.Duration(attempt-1)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		payload, err := b.get(ctx, endpoint)
		if err == nil {
			if err := json.Unmarshal(payload, dest); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}

		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			return err
		}
		b.logger.Debug().Err(err).Int("attempt", attempt).Str("endpoint", endpoint).Msg("request failed, retrying")
	}

	return fmt.Errorf("giving up after %d attempts: %w", b.opts.MaxTries, lastErr)
}

func (b *Binance) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(b.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", defaultUserAgent)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}
	return payload, nil
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}

func parseHTTPError(status int, payload []byte) error {
	apiErr := &APIError{Status: status}
	var body struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.Msg != "" {
		apiErr.Code = body.Code
		apiErr.Msg = body.Msg
		return apiErr
	}
	apiErr.Msg = strings.TrimSpace(string(payload))
	return apiErr
}

var _ Client = (*Binance)(nil)
