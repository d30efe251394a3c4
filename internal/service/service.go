package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketsnap/internal/alerting"
	"marketsnap/internal/cache"
	"marketsnap/internal/collector"
	"marketsnap/internal/config"
	"marketsnap/internal/exchange"
	"marketsnap/internal/market"
	"marketsnap/internal/metrics"
	"marketsnap/internal/registry"
	"marketsnap/internal/scheduler"
	"marketsnap/internal/storage"
)

// Panel names used in logs, metrics and run history.
const (
	PanelStructure = "structure"
	PanelRatio     = "lsr"
)

// ErrBuildInProgress means another process holds the build lock for the same key.
var ErrBuildInProgress = errors.New("build already in progress elsewhere")

// Options carry the build settings resolved from config.
type Options struct {
	Anchor      market.Symbol
	QuoteAsset  string
	MaxInFlight int
	WarnRatio   float64
	UseCache    bool

	StructureEnabled  bool
	Structure         market.CollectionParams
	StructureCoverage float64
	StructureJSONPath string
	StructurePNGPath  string

	RatioEnabled  bool
	Ratio         market.CollectionParams
	RatioScope    market.RatioScope
	RatioRows     int
	RatioCoverage float64

	AdvisoryLock bool
	BuildTimeout time.Duration
	RunRetention time.Duration

	AlertsEnabled    bool
	OnlyOnWarning    bool
	PublishFromCache bool
	Channels         []string
}

// OptionsFromConfig resolves Options; cfg must already be validated.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	anchor, err := cfg.StructureAnchor()
	if err != nil {
		return Options{}, err
	}
	structure, err := cfg.StructureParams()
	if err != nil {
		return Options{}, err
	}
	ratio, err := cfg.RatioParams()
	if err != nil {
		return Options{}, err
	}
	scope, err := market.ParseRatioScope(cfg.Ratio.Scope)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Anchor:            anchor,
		QuoteAsset:        cfg.Exchange.QuoteAsset,
		MaxInFlight:       cfg.Collector.MaxInFlight,
		WarnRatio:         cfg.Collector.WarnRatio,
		UseCache:          cfg.Cache.Enabled,
		StructureEnabled:  cfg.Structure.Enabled,
		Structure:         structure,
		StructureCoverage: cfg.Structure.CoverageThreshold,
		StructureJSONPath: cfg.Structure.JSONPath,
		StructurePNGPath:  cfg.Structure.PNGPath,
		RatioEnabled:      cfg.Ratio.Enabled,
		Ratio:             ratio,
		RatioScope:        scope,
		RatioRows:         cfg.Ratio.Rows,
		RatioCoverage:     cfg.Ratio.CoverageThreshold,
		AdvisoryLock:      cfg.Scheduler.AdvisoryLock,
		BuildTimeout:      cfg.Scheduler.BuildTimeout,
		RunRetention:      cfg.Database.RunRetention,
		AlertsEnabled:     cfg.Alerting.Enabled,
		OnlyOnWarning:     cfg.Alerting.OnlyOnWarning,
		PublishFromCache:  cfg.Alerting.PublishFromCache,
		Channels:          cfg.Alerting.Channels,
	}, nil
}

// Deps are the collaborators of a Service. Everything except Client may be nil.
type Deps struct {
	Client            exchange.Client
	Cache             *cache.Store
	StructureRegistry *registry.Registry
	RatioRegistry     *registry.Registry
	Runs              storage.RunStore
	Locker            storage.AdvisoryLocker
	Notifier          alerting.Notifier
	Metrics           *metrics.Recorder
	Scheduler         *scheduler.Scheduler
	Now               func() time.Time
}

// Service builds the market panels.
type Service struct {
	client            exchange.Client
	cache             *cache.Store
	structureRegistry *registry.Registry
	ratioRegistry     *registry.Registry
	runs              storage.RunStore
	locker            storage.AdvisoryLocker
	notifier          alerting.Notifier
	metrics           *metrics.Recorder
	scheduler         *scheduler.Scheduler
	now               func() time.Time
	opts              Options
	logger            zerolog.Logger

	// a registry generation is load -> filter -> record -> persist; builds of
	// one panel must not interleave
	structureMu sync.Mutex
	ratioMu     sync.Mutex
}

// New constructs the build service.
func New(deps Deps, opts Options, logger zerolog.Logger) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.QuoteAsset == "" {
		opts.QuoteAsset = "USDT"
	}
	if opts.Anchor == (market.Symbol{}) {
		opts.Anchor = market.NewSymbol("BTC", "USDT", market.Perp)
	}

	locker := deps.Locker
	if locker == nil {
		if l, ok := deps.Runs.(storage.AdvisoryLocker); ok {
			locker = l
		}
	}

	return &Service{
		client:            deps.Client,
		cache:             deps.Cache,
		structureRegistry: deps.StructureRegistry,
		ratioRegistry:     deps.RatioRegistry,
		runs:              deps.Runs,
		locker:            locker,
		notifier:          deps.Notifier,
		metrics:           deps.Metrics,
		scheduler:         deps.Scheduler,
		now:               deps.Now,
		opts:              opts,
		logger:            logger.With().Str("component", "service").Logger(),
	}
}

// Run begins the aligned build loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.Tick)
}

// Tick 在每个时间桶构建所有启用的面板，单个面板失败不影响其他面板。
func (s *Service) Tick(ctx context.Context, bucket time.Time) error {
	var errs []error

	if s.opts.StructureEnabled {
		if err := s.withTimeout(ctx, func(ctx context.Context) error {
			_, err := s.BuildStructure(ctx, StructureRequest{Params: s.opts.Structure})
			return err
		}); err != nil {
			errs = append(errs, fmt.Errorf("structure: %w", err))
		}
	}

	if s.opts.RatioEnabled {
		if err := s.withTimeout(ctx, func(ctx context.Context) error {
			_, err := s.BuildRatios(ctx, RatioRequest{Params: s.opts.Ratio, Scope: s.opts.RatioScope, Rows: s.opts.RatioRows})
			return err
		}); err != nil {
			errs = append(errs, fmt.Errorf("lsr: %w", err))
		}
	}

	s.pruneRuns(ctx, bucket)
	return errors.Join(errs...)
}

func (s *Service) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.opts.BuildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.BuildTimeout)
		defer cancel()
	}
	err := fn(ctx)
	if errors.Is(err, ErrBuildInProgress) {
		s.logger.Debug().Msg("skip build because advisory lock held elsewhere")
		return nil
	}
	return err
}

func (s *Service) pruneRuns(ctx context.Context, bucket time.Time) {
	if s.runs == nil || s.opts.RunRetention <= 0 {
		return
	}
	if err := s.runs.DeleteRunsBefore(ctx, bucket.Add(-s.opts.RunRetention)); err != nil {
		s.logger.Warn().Err(err).Msg("failed to prune run history")
	}
}

// LockKey derives the advisory lock key of a build.
func LockKey(panel string, params market.CollectionParams, extra string) int64 {
	return int64(xxhash.Sum64String(panel + "|" + params.Canonical() + "|" + extra))
}

func (s *Service) acquireLock(ctx context.Context, key int64) (func(), error) {
	if !s.opts.AdvisoryLock || s.locker == nil {
		return func() {}, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, ErrBuildInProgress
	}
	return unlock, nil
}

func (s *Service) recordRun(ctx context.Context, run storage.RunRecord) {
	if s.runs == nil {
		return
	}
	if _, err := s.runs.InsertRun(ctx, run); err != nil {
		s.logger.Error().Err(err).Str("panel", run.Panel).Msg("failed to persist run record")
	}
}

func (s *Service) publish(ctx context.Context, note alerting.Notification, fromCache bool) {
	if !s.opts.AlertsEnabled || s.notifier == nil {
		return
	}
	if s.opts.OnlyOnWarning && !note.CoverageWarning {
		return
	}
	if fromCache && !s.opts.PublishFromCache {
		return
	}
	note.Channels = s.opts.Channels
	note.FromCache = fromCache
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("panel", note.Panel).Msg("failed to dispatch report")
	}
}

func failedRun(panel string, params market.CollectionParams, scope string, started time.Time, elapsed time.Duration, err error) storage.RunRecord {
	msg := err.Error()
	return storage.RunRecord{
		Panel:      panel,
		ParamsKey:  params.Canonical(),
		Timeframe:  params.Timeframe.Name,
		Bars:       params.Range.Bars,
		Instrument: string(params.Instrument),
		Scope:      scope,
		StartedAt:  started,
		DurationMS: elapsed.Milliseconds(),
		Coverage:   decimal.Zero,
		Status:     storage.StatusFailed,
		Error:      &msg,
	}
}

func coveragePct(retained, total int) decimal.Decimal {
	if total <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(retained)).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(int64(total))).Round(2)
}

func missRecorder(reg *registry.Registry) collector.MissRecorder {
	if reg == nil {
		return nil
	}
	return reg
}

func symbolStringers(syms []market.Symbol) []fmt.Stringer {
	out := make([]fmt.Stringer, len(syms))
	for i, sym := range syms {
		out[i] = sym
	}
	return out
}
