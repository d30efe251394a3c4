package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"marketsnap/internal/alerting"
	"marketsnap/internal/cache"
	"marketsnap/internal/config"
	"marketsnap/internal/exchange"
	"marketsnap/internal/metrics"
	"marketsnap/internal/registry"
	"marketsnap/internal/scheduler"
	"marketsnap/internal/service"
	"marketsnap/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), out: os.Stdout}
}

func (a *App) newClient() exchange.Client {
	cfg := a.Config.Exchange
	return exchange.NewBinance(exchange.BinanceOptions{
		SpotBaseURL:    cfg.SpotBaseURL,
		FuturesBaseURL: cfg.FuturesBaseURL,
		Timeout:        cfg.RequestTimeout,
		MaxTries:       cfg.MaxTries,
		RetryBackoff:   cfg.RetryBackoff,
		UserAgent:      cfg.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

func (a *App) newRegistries() (structure, ratio *registry.Registry) {
	structure = registry.New(registry.Options{Path: a.Config.Registry.StructurePath, MaxAge: a.Config.Registry.MaxAge}, a.Logger)
	ratio = registry.New(registry.Options{Path: a.Config.Registry.Path, MaxAge: a.Config.Registry.MaxAge}, a.Logger)
	return structure, ratio
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newService wires a build service. The returned closer releases the store.
func (a *App) newService(ctx context.Context, opts service.Options, sched *scheduler.Scheduler, recorder *metrics.Recorder) (*service.Service, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if closeStore == nil {
		closeStore = func() {}
	}

	structureReg, ratioReg := a.newRegistries()
	deps := service.Deps{
		Client:            a.newClient(),
		StructureRegistry: structureReg,
		RatioRegistry:     ratioReg,
		Notifier:          a.newNotifier(),
		Metrics:           recorder,
		Scheduler:         sched,
	}
	if a.Config.Cache.Enabled {
		deps.Cache = cache.NewStore(a.Config.Cache.Dir, time.Now, a.Logger)
	}
	if store != nil {
		deps.Runs = store
		deps.Locker = store
	} else {
		opts.AdvisoryLock = false
	}

	return service.New(deps, opts, a.Logger), closeStore, nil
}

// Run executes the long-running build service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts, err := service.OptionsFromConfig(a.Config)
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		Offset:       a.Config.Scheduler.Offset,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	var recorder *metrics.Recorder
	if a.Config.Metrics.Enabled {
		recorder = metrics.New()
		stop := a.serveMetrics(recorder)
		defer stop()
	}

	svc, closeStore, err := a.newService(ctx, opts, sched, recorder)
	if err != nil {
		return err
	}
	defer closeStore()
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; run history and build locks disabled")
	}

	a.Logger.Info().
		Bool("structure", opts.StructureEnabled).
		Bool("lsr", opts.RatioEnabled).
		Dur("interval", a.Config.Scheduler.Interval).
		Msg("starting snapshot service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("snapshot service stopped")
	return nil
}

func (a *App) serveMetrics(recorder *metrics.Recorder) func() {
	mux := http.NewServeMux()
	mux.Handle(a.Config.Metrics.Path, recorder.Handler())
	srv := &http.Server{
		Addr:              a.Config.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.Logger.Info().Str("listen", srv.Addr).Str("path", a.Config.Metrics.Path).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics endpoint failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// StructureOptions override the configured market-structure build.
type StructureOptions struct {
	Timeframe  string
	Bars       int
	Instrument string
	JSONPath   string
	PNGPath    string
	NoCache    bool
}

// RatioOptions override the configured long/short ratio build.
type RatioOptions struct {
	Timeframe string
	Bars      int
	Scope     string
	Rows      int
	Symbols   []string
	Search    string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	Panel string
}

// RegistryOptions select the no-data registry to act on.
type RegistryOptions struct {
	Panel string
}
