package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"marketsnap/internal/logging"
	"marketsnap/internal/market"
	"marketsnap/internal/version"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Collector CollectorConfig `mapstructure:"collector"`
	Structure StructureConfig `mapstructure:"structure"`
	Ratio     RatioConfig     `mapstructure:"ratio"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	DataDir     string `mapstructure:"data_dir"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN disables
// run history and cross-process build locks.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	RunRetention    time.Duration `mapstructure:"run_retention"`
}

// SchedulerConfig governs build cadence.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	Offset        time.Duration `mapstructure:"offset"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
	RunOnStart    bool          `mapstructure:"run_on_start"`
	AdvisoryLock  bool          `mapstructure:"advisory_lock"`
	BuildTimeout  time.Duration `mapstructure:"build_timeout"`
}

// ExchangeConfig captures exchange connectivity.
type ExchangeConfig struct {
	SpotBaseURL    string        `mapstructure:"spot_base_url"`
	FuturesBaseURL string        `mapstructure:"futures_base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxTries       int           `mapstructure:"max_tries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	UserAgent      string        `mapstructure:"user_agent"`
	QuoteAsset     string        `mapstructure:"quote_asset"`
}

// CollectorConfig bounds the per-symbol fan-out.
type CollectorConfig struct {
	MaxInFlight int     `mapstructure:"max_in_flight"`
	WarnRatio   float64 `mapstructure:"warn_ratio"`
}

// StructureConfig 价格结构面板参数。
type StructureConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	Anchor            string  `mapstructure:"anchor"`
	Timeframe         string  `mapstructure:"timeframe"`
	Bars              int     `mapstructure:"bars"`
	Instrument        string  `mapstructure:"instrument"`
	CoverageThreshold float64 `mapstructure:"coverage_threshold"`
	JSONPath          string  `mapstructure:"json_path"`
	PNGPath           string  `mapstructure:"png_path"`
}

// RatioConfig 多空比面板参数。
type RatioConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	Timeframe         string  `mapstructure:"timeframe"`
	Bars              int     `mapstructure:"bars"`
	Scope             string  `mapstructure:"scope"`
	Rows              int     `mapstructure:"rows"`
	CoverageThreshold float64 `mapstructure:"coverage_threshold"`
}

// CacheConfig locates snapshot files.
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// RegistryConfig locates the no-data registry.
type RegistryConfig struct {
	Path          string        `mapstructure:"path"`
	StructurePath string        `mapstructure:"structure_path"`
	MaxAge        time.Duration `mapstructure:"max_age"`
}

// AlertingConfig defines report routing.
type AlertingConfig struct {
	Enabled          bool           `mapstructure:"enabled"`
	OnlyOnWarning    bool           `mapstructure:"only_on_warning"`
	PublishFromCache bool           `mapstructure:"publish_from_cache"`
	Channels         []string       `mapstructure:"channels"`
	Telegram         TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 推送参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MetricsConfig exposes Prometheus metrics from the run command.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKETSNAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "marketsnap")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.data_dir", "data")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.run_retention", "720h")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.offset", "15s")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("scheduler.advisory_lock", true)
	v.SetDefault("scheduler.build_timeout", "4m")

	v.SetDefault("exchange.spot_base_url", "https://api.binance.com")
	v.SetDefault("exchange.futures_base_url", "https://fapi.binance.com")
	v.SetDefault("exchange.request_timeout", "60s")
	v.SetDefault("exchange.max_tries", 3)
	v.SetDefault("exchange.retry_backoff", "500ms")
	v.SetDefault("exchange.user_agent", version.UserAgent())
	v.SetDefault("exchange.quote_asset", "USDT")

	v.SetDefault("collector.max_in_flight", 32)
	v.SetDefault("collector.warn_ratio", 0.7)

	v.SetDefault("structure.enabled", true)
	v.SetDefault("structure.anchor", "BTC-USDT")
	v.SetDefault("structure.timeframe", "5m")
	v.SetDefault("structure.bars", 289)
	v.SetDefault("structure.instrument", "perp")
	v.SetDefault("structure.coverage_threshold", 0.7)
	v.SetDefault("structure.json_path", "")
	v.SetDefault("structure.png_path", "")

	v.SetDefault("ratio.enabled", true)
	v.SetDefault("ratio.timeframe", "5m")
	v.SetDefault("ratio.bars", 289)
	v.SetDefault("ratio.scope", "global")
	v.SetDefault("ratio.rows", 0)
	v.SetDefault("ratio.coverage_threshold", 0.7)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.dir", "")

	v.SetDefault("registry.path", "")
	v.SetDefault("registry.structure_path", "")
	v.SetDefault("registry.max_age", "720h")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.only_on_warning", false)
	v.SetDefault("alerting.publish_from_cache", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9102")
	v.SetDefault("metrics.path", "/metrics")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

func (c *Config) resolvePaths() {
	if c.Cache.Dir == "" {
		c.Cache.Dir = filepath.Join(c.App.DataDir, "cache")
	}
	if c.Registry.Path == "" {
		c.Registry.Path = filepath.Join(c.App.DataDir, "lsr_no_data_pairs.txt")
	}
	if c.Registry.StructurePath == "" {
		c.Registry.StructurePath = filepath.Join(c.App.DataDir, "market_structure_no_data_pairs.txt")
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Exchange.MaxTries <= 0 {
		return fmt.Errorf("exchange.max_tries must be greater than zero")
	}
	if c.Exchange.QuoteAsset == "" {
		return fmt.Errorf("exchange.quote_asset 必须配置")
	}
	if c.Collector.WarnRatio < 0 || c.Collector.WarnRatio > 1 {
		return fmt.Errorf("collector.warn_ratio must be within [0, 1]")
	}
	if _, err := c.StructureParams(); err != nil {
		return err
	}
	if _, err := c.StructureAnchor(); err != nil {
		return err
	}
	if _, err := c.RatioParams(); err != nil {
		return err
	}
	if _, err := market.ParseRatioScope(c.Ratio.Scope); err != nil {
		return fmt.Errorf("ratio.scope: %w", err)
	}
	if c.Ratio.Rows < 0 {
		return fmt.Errorf("ratio.rows must not be negative")
	}
	if c.Registry.MaxAge <= 0 {
		return fmt.Errorf("registry.max_age must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen 必须配置")
	}
	return nil
}

// StructureParams returns the collection params of the structure panel.
func (c *Config) StructureParams() (market.CollectionParams, error) {
	return collectionParams("structure", c.Structure.Timeframe, c.Structure.Bars, c.Structure.Instrument)
}

// StructureAnchor parses the anchor symbol.
func (c *Config) StructureAnchor() (market.Symbol, error) {
	inst, err := market.ParseInstrument(c.Structure.Instrument)
	if err != nil {
		return market.Symbol{}, fmt.Errorf("structure.instrument: %w", err)
	}
	sym, err := market.ParseSymbol(c.Structure.Anchor, inst)
	if err != nil {
		return market.Symbol{}, fmt.Errorf("structure.anchor: %w", err)
	}
	return sym, nil
}

// RatioParams returns the collection params of the ratio panel. Ratio data
// only exists for perpetuals.
func (c *Config) RatioParams() (market.CollectionParams, error) {
	return collectionParams("ratio", c.Ratio.Timeframe, c.Ratio.Bars, string(market.Perp))
}

func collectionParams(section, tf string, bars int, inst string) (market.CollectionParams, error) {
	timeframe, err := market.ParseTimeframe(tf)
	if err != nil {
		return market.CollectionParams{}, fmt.Errorf("%s.timeframe: %w", section, err)
	}
	instrument, err := market.ParseInstrument(inst)
	if err != nil {
		return market.CollectionParams{}, fmt.Errorf("%s.instrument: %w", section, err)
	}
	params := market.CollectionParams{
		Timeframe:  timeframe,
		Range:      market.RequestRange{Bars: bars},
		Instrument: instrument,
	}
	if err := params.Range.Validate(); err != nil {
		return market.CollectionParams{}, fmt.Errorf("%s.bars: %w", section, err)
	}
	return params, nil
}
