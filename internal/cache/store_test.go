package cache

import (
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"marketsnap/internal/market"
)

func testParams() market.CollectionParams {
	return market.CollectionParams{
		Timeframe:  market.MustTimeframe("5m"),
		Range:      market.RequestRange{Bars: 289},
		Instrument: market.Perp,
	}
}

func testSnapshot(at time.Time) *Snapshot {
	return &Snapshot{
		CollectedAt: at,
		NormalizedSeries: map[string][]float64{
			"BTC-USDT": {0, 0.01, 0.02},
			"ETH-USDT": {0, -0.01, 0.005},
		},
		TimeIndex:    []time.Time{at.Add(-10 * time.Minute), at.Add(-5 * time.Minute), at},
		Params:       testParams(),
		UniverseSize: 3,
	}
}

func TestKeyIsFilesystemSafe(t *testing.T) {
	key := Key(testParams())
	if !regexp.MustCompile(`^[a-z0-9_-]+$`).MatchString(key) {
		t.Fatalf("key 含非法字符: %s", key)
	}
	other := testParams()
	other.Range.Bars = 288
	if Key(other) == key {
		t.Fatal("不同参数应得到不同 key")
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	store := NewStore(t.TempDir(), func() time.Time { return now }, zerolog.Nop())

	snap := testSnapshot(now)
	if err := store.Save(snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, ok := store.TryLoad(testParams())
	if !ok {
		t.Fatal("TTL 内应命中缓存")
	}
	if !loaded.CollectedAt.Equal(snap.CollectedAt) {
		t.Fatalf("collected_at mismatch: %s vs %s", loaded.CollectedAt, snap.CollectedAt)
	}
	if !reflect.DeepEqual(loaded.NormalizedSeries, snap.NormalizedSeries) {
		t.Fatalf("series mismatch: %#v", loaded.NormalizedSeries)
	}
	if len(loaded.TimeIndex) != len(snap.TimeIndex) || !loaded.TimeIndex[2].Equal(snap.TimeIndex[2]) {
		t.Fatalf("time index mismatch: %v", loaded.TimeIndex)
	}
	if !loaded.Params.Equal(snap.Params) || loaded.UniverseSize != 3 {
		t.Fatalf("params mismatch: %+v", loaded.Params)
	}
}

func TestExpiredSnapshotIsMiss(t *testing.T) {
	written := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	now := written
	store := NewStore(t.TempDir(), func() time.Time { return now }, zerolog.Nop())
	if err := store.Save(testSnapshot(written)); err != nil {
		t.Fatal(err)
	}

	now = written.Add(2 * time.Minute)
	if _, ok := store.TryLoad(testParams()); !ok {
		t.Fatal("2 分钟前写入的 5m 快照应命中")
	}

	now = written.Add(10 * time.Minute)
	if _, ok := store.TryLoad(testParams()); ok {
		t.Fatal("10 分钟前写入的 5m 快照应过期")
	}
	if _, err := os.Stat(store.Path(testParams())); err != nil {
		t.Fatal("过期不应删除文件")
	}
}

func TestFutureSnapshotIsMiss(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	store := NewStore(t.TempDir(), func() time.Time { return now }, zerolog.Nop())
	if err := store.Save(testSnapshot(now.Add(time.Minute))); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.TryLoad(testParams()); ok {
		t.Fatal("collected_at 晚于当前时间的快照不应命中")
	}
	if testSnapshot(now.Add(time.Minute)).Fresh(now) {
		t.Fatal("负的快照年龄应视为过期")
	}
}

func TestMismatchedParamsIsMiss(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	store := NewStore(dir, func() time.Time { return now }, zerolog.Nop())

	snap := testSnapshot(now)
	if err := store.Save(snap); err != nil {
		t.Fatal(err)
	}

	// simulate a key collision: another params' content under this params' file
	wrong := testSnapshot(now)
	wrong.Params.Instrument = market.Spot
	if err := store.Save(wrong); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(store.Path(wrong.Params), store.Path(testParams())); err != nil {
		t.Fatal(err)
	}

	if _, ok := store.TryLoad(testParams()); ok {
		t.Fatal("参数不一致时不应命中")
	}
}

func TestCorruptFileIsMiss(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil, zerolog.Nop())
	if err := os.WriteFile(filepath.Join(dir, Key(testParams())+".json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.TryLoad(testParams()); ok {
		t.Fatal("损坏文件不应命中")
	}
}

func TestInvalidate(t *testing.T) {
	now := time.Now()
	store := NewStore(t.TempDir(), func() time.Time { return now }, zerolog.Nop())
	if err := store.Save(testSnapshot(now)); err != nil {
		t.Fatal(err)
	}
	if err := store.Invalidate(testParams()); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.TryLoad(testParams()); ok {
		t.Fatal("invalidate 后不应命中")
	}
}
