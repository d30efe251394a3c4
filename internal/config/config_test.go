package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"marketsnap/internal/market"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  data_dir: /tmp/snap\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	params, err := cfg.StructureParams()
	if err != nil {
		t.Fatal(err)
	}
	want := market.CollectionParams{Timeframe: market.MustTimeframe("5m"), Range: market.RequestRange{Bars: 289}, Instrument: market.Perp}
	if !params.Equal(want) {
		t.Fatalf("默认参数错误: %+v", params)
	}
	anchor, err := cfg.StructureAnchor()
	if err != nil || anchor.String() != "BTC-USDT" {
		t.Fatalf("默认 anchor 错误: %v %v", anchor, err)
	}
	if cfg.Exchange.MaxTries != 3 || cfg.Exchange.RequestTimeout != 60*time.Second {
		t.Fatalf("exchange 默认值错误: %+v", cfg.Exchange)
	}
	if cfg.Registry.MaxAge != 30*24*time.Hour {
		t.Fatalf("registry.max_age 默认应为 30 天, 实际 %s", cfg.Registry.MaxAge)
	}
	if cfg.Cache.Dir != filepath.Join("/tmp/snap", "cache") {
		t.Fatalf("cache.dir 应派生自 data_dir, 实际 %s", cfg.Cache.Dir)
	}
	if cfg.Registry.Path != filepath.Join("/tmp/snap", "lsr_no_data_pairs.txt") {
		t.Fatalf("registry.path 应派生自 data_dir, 实际 %s", cfg.Registry.Path)
	}
	if cfg.Registry.StructurePath == cfg.Registry.Path {
		t.Fatal("两个面板的 no-data registry 不应共用文件")
	}
	if cfg.Ratio.Rows != 0 {
		t.Fatalf("ratio.rows 默认应为 0 (按 round(ln N) 取样), 实际 %d", cfg.Ratio.Rows)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, strings.Join([]string{
		"structure:",
		"  timeframe: 1h",
		"  instrument: spot",
		"alerting:",
		"  channels: telegram,log",
	}, "\n"))
	t.Setenv("MARKETSNAP_STRUCTURE_BARS", "48")
	t.Setenv("MARKETSNAP_COLLECTOR_MAX_IN_FLIGHT", "4")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	params, err := cfg.StructureParams()
	if err != nil {
		t.Fatal(err)
	}
	if params.Timeframe.Name != "1h" || params.Instrument != market.Spot || params.Range.Bars != 48 {
		t.Fatalf("文件/环境变量未生效: %+v", params)
	}
	if cfg.Collector.MaxInFlight != 4 {
		t.Fatalf("max_in_flight 应为 4, 实际 %d", cfg.Collector.MaxInFlight)
	}
	if len(cfg.Alerting.Channels) != 2 {
		t.Fatalf("channels 应按逗号拆分: %v", cfg.Alerting.Channels)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"timeframe": "structure:\n  timeframe: 7m\n",
		"bars":      "ratio:\n  bars: 0\n",
		"scope":     "ratio:\n  scope: whales\n",
		"rows":      "ratio:\n  rows: -1\n",
		"anchor":    "structure:\n  anchor: BTCUSDT\n",
		"telegram":  "alerting:\n  telegram:\n    enabled: true\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: 期望校验失败", name)
		}
	}
}
