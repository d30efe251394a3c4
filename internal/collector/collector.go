package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"marketsnap/internal/market"
	"marketsnap/internal/metrics"
)

// DefaultWarnRatio 成功率低于该比例时输出告警，构建本身不失败。
const DefaultWarnRatio = 0.7

// ErrAnchorMissing means the anchor symbol failed or returned no data.
var ErrAnchorMissing = errors.New("anchor symbol missing")

// FetchFunc fetches the series of one symbol.
type FetchFunc[T any] func(ctx context.Context, sym market.Symbol) ([]T, error)

// MissRecorder receives symbols whose fetch succeeded with zero points.
type MissRecorder interface {
	Record(sym market.Symbol)
}

// Options configure one collection.
type Options struct {
	Panel        string
	Anchor       *market.Symbol
	UniverseSize int
	// MaxInFlight caps concurrent fetches; <= 0 launches every fetch at once.
	MaxInFlight int
	WarnRatio   float64
	Misses      MissRecorder
	Metrics     *metrics.Recorder
	Logger      zerolog.Logger
}

// Result is the gathered outcome of a collection.
type Result[T any] struct {
	Series       map[market.Symbol][]T
	Empty        []market.Symbol
	Failed       map[market.Symbol]error
	UniverseSize int
}

// Successes counts symbols that returned data.
func (r *Result[T]) Successes() int {
	return len(r.Series)
}

// SuccessRate is successes over the full universe size.
func (r *Result[T]) SuccessRate() float64 {
	if r.UniverseSize <= 0 {
		return 0
	}
	return float64(len(r.Series)) / float64(r.UniverseSize)
}

// FailedSymbols returns the failed symbols in a stable order.
func (r *Result[T]) FailedSymbols() []market.Symbol {
	out := make([]market.Symbol, 0, len(r.Failed))
	for sym := range r.Failed {
		out = append(out, sym)
	}
	sortSymbols(out)
	return out
}

// Collect fans fetch out over symbols and gathers every outcome.
//
// Only an anchor failure or a cancelled ctx returns an error; other symbol
// errors are logged and kept in Result.Failed.
func Collect[T any](ctx context.Context, symbols []market.Symbol, fetch FetchFunc[T], opts Options) (*Result[T], error) {
	if opts.WarnRatio <= 0 {
		opts.WarnRatio = DefaultWarnRatio
	}
	if opts.UniverseSize <= 0 {
		opts.UniverseSize = len(symbols)
	}
	logger := opts.Logger.With().Str("component", "collector").Str("panel", opts.Panel).Logger()

	ordered := symbols
	if opts.Anchor != nil {
		var err error
		ordered, err = anchorFirst(symbols, *opts.Anchor)
		if err != nil {
			return nil, err
		}
	}

	result := &Result[T]{
		Series:       make(map[market.Symbol][]T, len(ordered)),
		Failed:       make(map[market.Symbol]error),
		UniverseSize: opts.UniverseSize,
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if opts.MaxInFlight > 0 {
		g.SetLimit(opts.MaxInFlight)
	}

	for _, sym := range ordered {
		sym := sym
		isAnchor := opts.Anchor != nil && sym == *opts.Anchor
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			data, err := fetch(gctx, sym)
			switch {
			case err != nil:
				opts.Metrics.RecordFetch(opts.Panel, metrics.OutcomeError)
				if isAnchor {
					return fmt.Errorf("%w (%s): %w", ErrAnchorMissing, sym, err)
				}
				if gctx.Err() != nil {
					return nil
				}
				logger.Warn().Err(err).Str("symbol", sym.String()).Msg("fetch failed, symbol skipped")
				mu.Lock()
				result.Failed[sym] = err
				mu.Unlock()
			case len(data) == 0:
				opts.Metrics.RecordFetch(opts.Panel, metrics.OutcomeEmpty)
				if isAnchor {
					return fmt.Errorf("%w (%s): no data returned", ErrAnchorMissing, sym)
				}
				logger.Info().Str("symbol", sym.String()).Msg("no data returned, recording soft miss")
				if opts.Misses != nil {
					opts.Misses.Record(sym)
				}
				mu.Lock()
				result.Empty = append(result.Empty, sym)
				mu.Unlock()
			default:
				opts.Metrics.RecordFetch(opts.Panel, metrics.OutcomeSuccess)
				mu.Lock()
				result.Series[sym] = data
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("collection aborted")
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("collection cancelled: %w", err)
	}
	sortSymbols(result.Empty)

	rate := result.SuccessRate()
	event := logger.Info()
	if rate < opts.WarnRatio {
		event = logger.Warn()
	}
	event.
		Int("succeeded", result.Successes()).
		Int("empty", len(result.Empty)).
		Int("failed", len(result.Failed)).
		Int("universe", result.UniverseSize).
		Float64("success_rate", rate).
		Msg("collection finished")

	return result, nil
}

func anchorFirst(symbols []market.Symbol, anchor market.Symbol) ([]market.Symbol, error) {
	out := make([]market.Symbol, 0, len(symbols))
	found := false
	for _, sym := range symbols {
		if sym == anchor {
			found = true
			continue
		}
		out = append(out, sym)
	}
	if !found {
		return nil, fmt.Errorf("%w (%s): not in symbol list", ErrAnchorMissing, anchor)
	}
	return append([]market.Symbol{anchor}, out...), nil
}

func sortSymbols(syms []market.Symbol) {
	sort.Slice(syms, func(i, j int) bool { return syms[i].String() < syms[j].String() })
}
