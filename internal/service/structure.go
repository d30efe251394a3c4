package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marketsnap/internal/alerting"
	"marketsnap/internal/cache"
	"marketsnap/internal/collector"
	"marketsnap/internal/market"
	"marketsnap/internal/metrics"
	"marketsnap/internal/panel"
	"marketsnap/internal/ranking"
	"marketsnap/internal/series"
	"marketsnap/internal/storage"
)

// StructureRequest selects what to build.
type StructureRequest struct {
	Params    market.CollectionParams
	SkipCache bool
}

// BuildStats summarise where symbols went during a build.
type BuildStats struct {
	Universe    int
	Excluded    int
	Candidates  int
	Succeeded   int
	Empty       int
	Failed      int
	Invalid     int
	Dropped     int
	Rejected    int
	SuccessRate float64
	Duration    time.Duration
}

// StructureResult is the outcome of a market-structure build.
type StructureResult struct {
	Snapshot  *cache.Snapshot
	Ranking   *ranking.Ranking
	Panel     *panel.Structure
	FromCache bool
	Stats     BuildStats
}

// BuildStructure produces the market-structure panel for req.Params. A fresh
// cached snapshot is served without any exchange call; otherwise the universe
// is fetched, normalised, aligned to the anchor and written through the cache.
// Only universe and anchor failures are returned as errors.
func (s *Service) BuildStructure(ctx context.Context, req StructureRequest) (*StructureResult, error) {
	s.structureMu.Lock()
	defer s.structureMu.Unlock()

	params := req.Params
	started := s.now()
	logger := s.logger.With().Str("panel", PanelStructure).Str("params", params.Canonical()).Logger()

	if res, ok := s.structureFromCache(ctx, req, started); ok {
		return res, nil
	}

	unlock, err := s.acquireLock(ctx, LockKey(PanelStructure, params, ""))
	if err != nil {
		return nil, err
	}
	defer unlock()

	// another process may have finished the same build while we waited on the lock
	if res, ok := s.structureFromCache(ctx, req, started); ok {
		return res, nil
	}

	snap, stats, err := s.collectStructure(ctx, params)
	if err != nil {
		elapsed := s.now().Sub(started)
		s.metrics.RecordBuild(PanelStructure, metrics.ResultFailed, elapsed.Seconds())
		s.recordRun(ctx, failedRun(PanelStructure, params, "", started, elapsed, err))
		logger.Error().Err(err).Msg("structure build failed")
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Save(snap); err != nil {
			logger.Error().Err(err).Msg("failed to write snapshot cache")
		}
	}

	res, err := s.finishStructure(ctx, snap, false, started, stats)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordBuild(PanelStructure, metrics.ResultBuilt, res.Stats.Duration.Seconds())
	return res, nil
}

func (s *Service) structureFromCache(ctx context.Context, req StructureRequest, started time.Time) (*StructureResult, bool) {
	if s.cache == nil || req.SkipCache || !s.opts.UseCache {
		return nil, false
	}
	snap, ok := s.cache.TryLoad(req.Params)
	if !ok {
		return nil, false
	}
	res, err := s.finishStructure(ctx, snap, true, started, BuildStats{Universe: snap.UniverseSize})
	if err != nil {
		s.logger.Warn().Err(err).Msg("cached snapshot unusable, rebuilding")
		if err := s.cache.Invalidate(req.Params); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drop unusable snapshot")
		}
		return nil, false
	}
	s.metrics.RecordBuild(PanelStructure, metrics.ResultCached, res.Stats.Duration.Seconds())
	return res, true
}

func (s *Service) collectStructure(ctx context.Context, params market.CollectionParams) (*cache.Snapshot, BuildStats, error) {
	var stats BuildStats
	logger := s.logger.With().Str("panel", PanelStructure).Logger()
	anchor := market.NewSymbol(s.opts.Anchor.Base, s.opts.Anchor.Quote, params.Instrument)

	universe, err := ResolveUniverse(ctx, s.client, params.Instrument, s.opts.QuoteAsset)
	if err != nil {
		return nil, stats, fmt.Errorf("resolve universe: %w", err)
	}
	// anchor 不在 universe 时仍会抓取，分母要把它算进去
	total := universe.Total()
	if !universe.Contains(anchor) {
		total++
		logger.Warn().Str("anchor", anchor.String()).Msg("anchor not listed in universe, fetching it anyway")
	}
	stats.Universe = total

	candidates := universe.Symbols
	if s.structureRegistry != nil {
		if err := s.structureRegistry.Load(); err != nil {
			logger.Warn().Err(err).Msg("no-data registry unreadable, using full universe")
		}
		candidates = s.structureRegistry.Filter(candidates)
		if s.structureRegistry.Expired() {
			logger.Info().Msg("no-data registry expired, all symbols are retried this cycle")
		}
	}
	stats.Excluded = universe.Total() - len(candidates)
	candidates = withAnchor(candidates, anchor)
	stats.Candidates = len(candidates)

	result, err := collector.Collect(ctx, candidates, func(ctx context.Context, sym market.Symbol) ([]market.Kline, error) {
		return s.client.Klines(ctx, sym, params.Timeframe, params.Range)
	}, collector.Options{
		Panel:        PanelStructure,
		Anchor:       &anchor,
		UniverseSize: total,
		MaxInFlight:  s.opts.MaxInFlight,
		WarnRatio:    s.opts.WarnRatio,
		Misses:       missRecorder(s.structureRegistry),
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

	anchorBars := market.RawSeries(result.Series[anchor])
	anchorValues, err := series.Normalize(anchorBars.Closes())
	if err != nil {
		// 构建失败，本轮的 no-data 记录不落盘
		return nil, stats, fmt.Errorf("%w (%s): %w", collector.ErrAnchorMissing, anchor, err)
	}
	if s.structureRegistry != nil {
		if err := s.structureRegistry.Persist(); err != nil {
			logger.Error().Err(err).Msg("failed to persist no-data registry")
		}
	}

	timeIndex := anchorBars.OpenTimes()
	normalized := make(map[market.Symbol][]float64, len(result.Series))
	normalized[anchor] = anchorValues
	for sym, bars := range result.Series {
		if sym == anchor {
			continue
		}
		values, err := series.Normalize(market.RawSeries(bars).Closes())
		if err != nil {
			stats.Invalid++
			logger.Warn().Err(err).Str("symbol", sym.String()).Msg("series cannot be normalised, symbol skipped")
			continue
		}
		normalized[sym] = values
	}

	kept, dropped := series.Align(normalized, len(timeIndex))
	for _, sym := range dropped {
		logger.Warn().Str("symbol", sym.String()).
			Int("bars", len(normalized[sym])).
			Int("expected", len(timeIndex)).
			Msg("series length differs from anchor, symbol dropped")
	}
	stats.Dropped = len(dropped)

	snap := &cache.Snapshot{
		CollectedAt:      s.now(),
		NormalizedSeries: make(map[string][]float64, len(kept)),
		TimeIndex:        timeIndex,
		Params:           params,
		UniverseSize:     total,
	}
	for sym, values := range kept {
		snap.NormalizedSeries[sym.String()] = values
	}
	return snap, stats, nil
}

func (s *Service) finishStructure(ctx context.Context, snap *cache.Snapshot, fromCache bool, started time.Time, stats BuildStats) (*StructureResult, error) {
	anchor := market.NewSymbol(s.opts.Anchor.Base, s.opts.Anchor.Quote, snap.Params.Instrument)

	entries := make([]ranking.Entry, 0, len(snap.NormalizedSeries))
	for key, values := range snap.NormalizedSeries {
		sym, err := market.ParseSymbol(key, snap.Params.Instrument)
		if err != nil {
			return nil, fmt.Errorf("snapshot symbol %q: %w", key, err)
		}
		change := series.NetChange(values)
		entries = append(entries, ranking.Entry{Symbol: sym, Value: change, Change: change})
	}
	rank := ranking.Build(entries, snap.UniverseSize)
	stats.Rejected = len(rank.Rejected())
	for _, e := range rank.Rejected() {
		s.logger.Warn().Str("symbol", e.Symbol.String()).Msg("non-finite net change, symbol not ranked")
	}

	payload, err := panel.NewStructure(snap, rank, panel.StructureOptions{
		Anchor:            anchor,
		CoverageThreshold: s.opts.StructureCoverage,
	})
	if err != nil {
		return nil, err
	}
	if err := s.exportStructure(payload); err != nil {
		s.logger.Error().Err(err).Msg("failed to export structure panel")
	}

	stats.Duration = s.now().Sub(started)
	s.metrics.RecordCoverage(PanelStructure, rank.Len(), rank.Total())

	status := storage.StatusBuilt
	if fromCache {
		status = storage.StatusCached
	}
	s.recordRun(ctx, storage.RunRecord{
		Panel:      PanelStructure,
		ParamsKey:  snap.Params.Canonical(),
		Timeframe:  snap.Params.Timeframe.Name,
		Bars:       snap.Params.Range.Bars,
		Instrument: string(snap.Params.Instrument),
		StartedAt:  started,
		DurationMS: stats.Duration.Milliseconds(),
		Retained:   rank.Len(),
		Total:      rank.Total(),
		Coverage:   coveragePct(rank.Len(), rank.Total()),
		Status:     status,
		Summary:    payload.Title,
	})

	s.publish(ctx, alerting.Notification{
		Panel:           PanelStructure,
		Title:           payload.Title,
		CollectedAt:     snap.CollectedAt,
		Retained:        rank.Len(),
		Total:           rank.Total(),
		CoveragePct:     coveragePct(rank.Len(), rank.Total()),
		CoverageWarning: payload.CoverageWarning,
		Body:            legendBody(payload),
	}, fromCache)

	s.logger.Info().
		Str("panel", PanelStructure).
		Bool("from_cache", fromCache).
		Str("coverage", rank.CoverageString()).
		Dur("duration", stats.Duration).
		Msg("structure panel ready")

	return &StructureResult{
		Snapshot:  snap,
		Ranking:   rank,
		Panel:     payload,
		FromCache: fromCache,
		Stats:     stats,
	}, nil
}

func (s *Service) exportStructure(p *panel.Structure) error {
	if s.opts.StructureJSONPath != "" {
		if err := p.WriteJSON(s.opts.StructureJSONPath); err != nil {
			return fmt.Errorf("write structure json: %w", err)
		}
	}
	if s.opts.StructurePNGPath != "" {
		if err := p.WritePNG(s.opts.StructurePNGPath); err != nil {
			return fmt.Errorf("write structure png: %w", err)
		}
	}
	return nil
}

func legendBody(p *panel.Structure) string {
	var lines []string
	for _, tr := range p.Traces {
		if tr.Label != "" {
			lines = append(lines, tr.Label)
		}
	}
	return strings.Join(lines, "\n")
}

func withAnchor(symbols []market.Symbol, anchor market.Symbol) []market.Symbol {
	for _, sym := range symbols {
		if sym == anchor {
			return symbols
		}
	}
	return append([]market.Symbol{anchor}, symbols...)
}
