package registry

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marketsnap/internal/market"
)

// DefaultMaxAge 交易所随时可能开始为被忽略的交易对提供数据，因此每月整体重试一次。
const DefaultMaxAge = 30 * 24 * time.Hour

// Options configure a Registry.
type Options struct {
	Path   string
	MaxAge time.Duration
	Now    func() time.Time
}

// Registry remembers symbols the exchange returned no data for.
type Registry struct {
	path   string
	maxAge time.Duration
	now    func() time.Time
	logger zerolog.Logger

	mu          sync.Mutex
	members     map[string]struct{}
	pending     map[string]struct{}
	refreshedAt time.Time
	expired     bool
}

// New builds an empty registry bound to path. Call Load before Filter.
func New(opts Options, logger zerolog.Logger) *Registry {
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		path:    opts.Path,
		maxAge:  opts.MaxAge,
		now:     opts.Now,
		logger:  logger.With().Str("component", "no_data_registry").Str("path", opts.Path).Logger(),
		members: make(map[string]struct{}),
		pending: make(map[string]struct{}),
	}
}

// Load reads the registry file. A missing file yields an empty registry; a file
// older than the max age is discarded so every symbol is retried this cycle.
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.members = make(map[string]struct{})
	r.pending = make(map[string]struct{})
	r.refreshedAt = time.Time{}
	r.expired = false

	info, err := os.Stat(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat registry: %w", err)
	}

	age := r.now().Sub(info.ModTime())
	if age >= r.maxAge {
		r.expired = true
		r.logger.Info().Dur("age", age).Msg("no-data registry expired, retrying all symbols")
		return nil
	}

	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read registry: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r.members[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("parse registry: %w", err)
	}

	r.refreshedAt = info.ModTime()
	r.logger.Debug().Int("members", len(r.members)).Dur("age", age).Msg("no-data registry loaded")
	return nil
}

// Filter drops registry members from the universe, preserving order.
func (r *Registry) Filter(universe []market.Symbol) []market.Symbol {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]market.Symbol, 0, len(universe))
	for _, sym := range universe {
		if _, skip := r.members[sym.String()]; skip {
			continue
		}
		out = append(out, sym)
	}
	return out
}

// Contains reports membership in the loaded set.
func (r *Registry) Contains(sym market.Symbol) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[sym.String()]
	return ok
}

// Record notes a soft miss. Safe for concurrent use.
func (r *Registry) Record(sym market.Symbol) {
	key := sym.String()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, known := r.members[key]; known {
		return
	}
	r.pending[key] = struct{}{}
}

// Persist merges this cycle's misses into the file. Nothing is written when no
// new misses were recorded.
func (r *Registry) Persist() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) == 0 {
		return nil
	}

	for key := range r.pending {
		r.members[key] = struct{}{}
	}
	added := len(r.pending)
	r.pending = make(map[string]struct{})

	if r.refreshedAt.IsZero() {
		r.refreshedAt = r.now()
	}

	if err := writeLines(r.path, sortedKeys(r.members)); err != nil {
		return err
	}
	// the mtime carries the generation start, not the last write
	if err := os.Chtimes(r.path, r.refreshedAt, r.refreshedAt); err != nil {
		return fmt.Errorf("stamp registry: %w", err)
	}

	r.expired = false
	r.logger.Info().Int("added", added).Int("members", len(r.members)).Msg("no-data registry persisted")
	return nil
}

// Reset removes the registry file and clears memory.
func (r *Registry) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.members = make(map[string]struct{})
	r.pending = make(map[string]struct{})
	r.refreshedAt = time.Time{}
	if err := os.Remove(r.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove registry: %w", err)
	}
	return nil
}

// Members returns the loaded set, sorted.
func (r *Registry) Members() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.members)
}

// Pending returns misses recorded since Load, sorted.
func (r *Registry) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.pending)
}

// Expired reports whether the last Load discarded a stale file.
func (r *Registry) Expired() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expired
}

// RefreshedAt is when the current registry generation began; zero if none.
func (r *Registry) RefreshedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshedAt
}

// Path returns the backing file.
func (r *Registry) Path() string { return r.path }

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeLines(path string, lines []string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".registry-*")
	if err != nil {
		return fmt.Errorf("create registry temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strings.Join(lines, "\n")); err != nil {
		tmp.Close()
		return fmt.Errorf("write registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}
