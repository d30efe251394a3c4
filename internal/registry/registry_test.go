package registry

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"marketsnap/internal/market"
)

func sym(pair string) market.Symbol {
	s, err := market.ParseSymbol(pair, market.Perp)
	if err != nil {
		panic(err)
	}
	return s
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestRegistry(t *testing.T, clock *fakeClock) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lsr_no_data_pairs.txt")
	return New(Options{Path: path, Now: clock.Now}, zerolog.Nop())
}

func TestLoadMissingFile(t *testing.T) {
	clock := &fakeClock{t: time.Now().Truncate(time.Second)}
	reg := newTestRegistry(t, clock)
	if err := reg.Load(); err != nil {
		t.Fatalf("缺失文件不应报错: %v", err)
	}
	if len(reg.Members()) != 0 || reg.Expired() {
		t.Fatal("缺失文件应得到空注册表")
	}
}

func TestFilterExcludesFreshMembers(t *testing.T) {
	clock := &fakeClock{t: time.Now().Truncate(time.Second)}
	reg := newTestRegistry(t, clock)
	if err := reg.Load(); err != nil {
		t.Fatal(err)
	}
	reg.Record(sym("NEW-USDT"))
	if err := reg.Persist(); err != nil {
		t.Fatalf("persist: %v", err)
	}

	clock.t = clock.t.Add(24 * time.Hour)
	reloaded := New(Options{Path: reg.Path(), Now: clock.Now}, zerolog.Nop())
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}

	universe := []market.Symbol{sym("BTC-USDT"), sym("NEW-USDT"), sym("ETH-USDT")}
	candidates := reloaded.Filter(universe)
	if len(candidates) != 2 {
		t.Fatalf("期望过滤后 2 个, 实际 %d", len(candidates))
	}
	for _, c := range candidates {
		if c.String() == "NEW-USDT" {
			t.Fatal("注册表成员不应进入抓取列表")
		}
	}
}

func TestExpiredRegistryRetriesEverything(t *testing.T) {
	clock := &fakeClock{t: time.Now().Truncate(time.Second)}
	reg := newTestRegistry(t, clock)
	if err := reg.Load(); err != nil {
		t.Fatal(err)
	}
	reg.Record(sym("OLD-USDT"))
	if err := reg.Persist(); err != nil {
		t.Fatal(err)
	}

	clock.t = clock.t.Add(DefaultMaxAge + time.Minute)
	if err := reg.Load(); err != nil {
		t.Fatal(err)
	}
	if !reg.Expired() {
		t.Fatal("超过 30 天应视为过期")
	}
	if got := reg.Filter([]market.Symbol{sym("OLD-USDT")}); len(got) != 1 {
		t.Fatal("过期后所有交易对都应重新抓取")
	}
}

func TestPersistKeepsGenerationStart(t *testing.T) {
	start := time.Now().Truncate(time.Second)
	clock := &fakeClock{t: start}
	reg := newTestRegistry(t, clock)
	if err := reg.Load(); err != nil {
		t.Fatal(err)
	}
	reg.Record(sym("AAA-USDT"))
	if err := reg.Persist(); err != nil {
		t.Fatal(err)
	}

	clock.t = start.Add(20 * 24 * time.Hour)
	if err := reg.Load(); err != nil {
		t.Fatal(err)
	}
	reg.Record(sym("BBB-USDT"))
	if err := reg.Persist(); err != nil {
		t.Fatal(err)
	}

	// 20 + 11 days after the first write the whole set must expire
	clock.t = start.Add(31 * 24 * time.Hour)
	if err := reg.Load(); err != nil {
		t.Fatal(err)
	}
	if !reg.Expired() {
		t.Fatal("后续写入不应延长注册表有效期")
	}
}

func TestPersistWithoutMissesDoesNotWrite(t *testing.T) {
	clock := &fakeClock{t: time.Now().Truncate(time.Second)}
	reg := newTestRegistry(t, clock)
	if err := reg.Load(); err != nil {
		t.Fatal(err)
	}
	if err := reg.Persist(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(reg.Path()); !os.IsNotExist(err) {
		t.Fatal("无新增 miss 时不应写文件")
	}
}

func TestConcurrentRecord(t *testing.T) {
	clock := &fakeClock{t: time.Now().Truncate(time.Second)}
	reg := newTestRegistry(t, clock)
	if err := reg.Load(); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reg.Record(sym(string(rune('A'+i%26)) + "X-USDT"))
		}(i)
	}
	wg.Wait()

	if len(reg.Pending()) != 26 {
		t.Fatalf("期望 26 个去重后的 miss, 实际 %d", len(reg.Pending()))
	}
	if err := reg.Persist(); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(reg.Path())
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(string(raw), "\n")
	if len(lines) != 26 {
		t.Fatalf("文件应有 26 行, 实际 %d", len(lines))
	}
}

func TestReset(t *testing.T) {
	clock := &fakeClock{t: time.Now().Truncate(time.Second)}
	reg := newTestRegistry(t, clock)
	_ = reg.Load()
	reg.Record(sym("ZZZ-USDT"))
	if err := reg.Persist(); err != nil {
		t.Fatal(err)
	}
	if err := reg.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := os.Stat(reg.Path()); !os.IsNotExist(err) {
		t.Fatal("reset 后文件应被删除")
	}
}
