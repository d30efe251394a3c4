package service

import (
	"context"
	"fmt"

	"marketsnap/internal/alerting"
	"marketsnap/internal/collector"
	"marketsnap/internal/market"
	"marketsnap/internal/metrics"
	"marketsnap/internal/panel"
	"marketsnap/internal/ranking"
	"marketsnap/internal/series"
	"marketsnap/internal/storage"
)

// RatioRequest selects what to build. Rows <= 0 uses the ranking sample size.
type RatioRequest struct {
	Params market.CollectionParams
	Scope  market.RatioScope
	Rows   int
}

// RatioResult is the outcome of a long/short ratio build.
type RatioResult struct {
	Ranking *ranking.Ranking
	Panel   *panel.Ratio
	Stats   BuildStats
}

// BuildRatios fetches the long/short ratio history of every perpetual symbol
// and ranks them by latest long share. Ratio panels are never cached.
func (s *Service) BuildRatios(ctx context.Context, req RatioRequest) (*RatioResult, error) {
	s.ratioMu.Lock()
	defer s.ratioMu.Unlock()

	params := req.Params
	params.Instrument = market.Perp
	if req.Scope == "" {
		req.Scope = market.ScopeGlobal
	}
	started := s.now()
	logger := s.logger.With().Str("panel", PanelRatio).Str("params", params.Canonical()).Str("scope", string(req.Scope)).Logger()

	unlock, err := s.acquireLock(ctx, LockKey(PanelRatio, params, string(req.Scope)))
	if err != nil {
		return nil, err
	}
	defer unlock()

	rank, stats, err := s.collectRatios(ctx, params, req.Scope)
	if err != nil {
		elapsed := s.now().Sub(started)
		s.metrics.RecordBuild(PanelRatio, metrics.ResultFailed, elapsed.Seconds())
		s.recordRun(ctx, failedRun(PanelRatio, params, string(req.Scope), started, elapsed, err))
		logger.Error().Err(err).Msg("ratio build failed")
		return nil, err
	}

	collectedAt := s.now()
	payload := panel.NewRatio(rank, panel.RatioOptions{
		Rows:              req.Rows,
		Scope:             req.Scope,
		Timeframe:         params.Timeframe,
		CollectedAt:       collectedAt,
		CoverageThreshold: s.opts.RatioCoverage,
		Report:            ranking.ReportOptions{Instrument: params.Instrument},
	})
	stats.Duration = s.now().Sub(started)

	s.metrics.RecordCoverage(PanelRatio, rank.Len(), rank.Total())
	s.metrics.RecordBuild(PanelRatio, metrics.ResultBuilt, stats.Duration.Seconds())
	s.recordRun(ctx, storage.RunRecord{
		Panel:      PanelRatio,
		ParamsKey:  params.Canonical(),
		Timeframe:  params.Timeframe.Name,
		Bars:       params.Range.Bars,
		Instrument: string(params.Instrument),
		Scope:      string(req.Scope),
		StartedAt:  started,
		DurationMS: stats.Duration.Milliseconds(),
		Retained:   rank.Len(),
		Total:      rank.Total(),
		Coverage:   coveragePct(rank.Len(), rank.Total()),
		Status:     storage.StatusBuilt,
		Summary:    fmt.Sprintf("average long share %s%%", ranking.Percent(rank.Average())),
	})
	s.publish(ctx, alerting.Notification{
		Panel:           PanelRatio,
		Title:           fmt.Sprintf("Long/short ratio (%s, %s)", req.Scope, params.Timeframe.Name),
		CollectedAt:     collectedAt,
		Retained:        rank.Len(),
		Total:           rank.Total(),
		CoveragePct:     coveragePct(rank.Len(), rank.Total()),
		CoverageWarning: payload.CoverageWarning,
		Body:            payload.Report,
	}, false)

	logger.Info().
		Str("coverage", rank.CoverageString()).
		Dur("duration", stats.Duration).
		Msg("ratio panel ready")

	return &RatioResult{Ranking: rank, Panel: payload, Stats: stats}, nil
}

func (s *Service) collectRatios(ctx context.Context, params market.CollectionParams, scope market.RatioScope) (*ranking.Ranking, BuildStats, error) {
	var stats BuildStats
	logger := s.logger.With().Str("panel", PanelRatio).Logger()

	universe, err := ResolveUniverse(ctx, s.client, market.Perp, s.opts.QuoteAsset)
	if err != nil {
		return nil, stats, fmt.Errorf("resolve universe: %w", err)
	}
	stats.Universe = universe.Total()

	candidates := universe.Symbols
	if s.ratioRegistry != nil {
		if err := s.ratioRegistry.Load(); err != nil {
			logger.Warn().Err(err).Msg("no-data registry unreadable, using full universe")
		}
		candidates = s.ratioRegistry.Filter(candidates)
		if s.ratioRegistry.Expired() {
			logger.Info().Msg("no-data registry expired, all symbols are retried this cycle")
		}
	}
	stats.Excluded = universe.Total() - len(candidates)
	stats.Candidates = len(candidates)

	result, err := collector.Collect(ctx, candidates, func(ctx context.Context, sym market.Symbol) ([]market.RatioPoint, error) {
		return s.client.LongShortRatio(ctx, sym, params.Timeframe, params.Range, scope)
	}, collector.Options{
		Panel:        PanelRatio,
		UniverseSize: universe.Total(),
		MaxInFlight:  s.opts.MaxInFlight,
		WarnRatio:    s.opts.WarnRatio,
		Misses:       missRecorder(s.ratioRegistry),
		Metrics:      s.metrics,
		Logger:       s.logger,
	})
	if err != nil {
		return nil, stats, err
	}
	stats.Succeeded = result.Successes()
	stats.Empty = len(result.Empty)
	stats.Failed = len(result.Failed)
	stats.SuccessRate = result.SuccessRate()
	if failed := result.FailedSymbols(); len(failed) > 0 {
		logger.Warn().Stringers("symbols", symbolStringers(failed)).Msg("symbols failed this cycle")
	}

	if s.ratioRegistry != nil {
		if err := s.ratioRegistry.Persist(); err != nil {
			logger.Error().Err(err).Msg("failed to persist no-data registry")
		}
	}

	entries := make([]ranking.Entry, 0, len(result.Series))
	for sym, points := range result.Series {
		shares := market.LongShares(points)
		entries = append(entries, ranking.Entry{
			Symbol: sym,
			Value:  series.Last(shares),
			Change: series.NetChange(shares),
		})
	}
	rank := ranking.Build(entries, universe.Total())
	stats.Rejected = len(rank.Rejected())
	for _, e := range rank.Rejected() {
		logger.Warn().Str("symbol", e.Symbol.String()).Msg("non-finite long share, symbol not ranked")
	}
	return rank, stats, nil
}
