package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"marketsnap/internal/market"
)

// Snapshot is one persisted market-structure build.
type Snapshot struct {
	CollectedAt      time.Time               `json:"collected_at"`
	NormalizedSeries map[string][]float64    `json:"normalized_series"`
	TimeIndex        []time.Time             `json:"time_index"`
	Params           market.CollectionParams `json:"params"`
	UniverseSize     int                     `json:"universe_size"`
}

// Age returns how old the snapshot is at now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CollectedAt)
}

// Fresh 新鲜度在读取时按 timeframe 时长判定。collected_at 晚于 now 视为过期。
func (s *Snapshot) Fresh(now time.Time) bool {
	age := s.Age(now)
	return age >= 0 && age < s.Params.Timeframe.Duration
}

// Store persists snapshots as one JSON file per CollectionParams.
type Store struct {
	dir    string
	now    func() time.Time
	logger zerolog.Logger
}

// NewStore creates a snapshot store rooted at dir.
func NewStore(dir string, now func() time.Time, logger zerolog.Logger) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		dir:    dir,
		now:    now,
		logger: logger.With().Str("component", "snapshot_cache").Logger(),
	}
}

// Key derives the filesystem-safe cache key for params.
func Key(params market.CollectionParams) string {
	raw := fmt.Sprintf("market_structure_%s_%s_%d_%016x",
		params.Instrument, params.Timeframe.Name, params.Range.Bars, params.Hash())
	return sanitize(raw)
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Path returns the file backing params.
func (s *Store) Path(params market.CollectionParams) string {
	return filepath.Join(s.dir, Key(params)+".json")
}

// TryLoad returns a fresh snapshot for params, or false on any miss.
func (s *Store) TryLoad(params market.CollectionParams) (*Snapshot, bool) {
	path := s.Path(params)
	logger := s.logger.With().Str("path", path).Logger()

	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn().Err(err).Msg("snapshot cache unreadable")
		}
		return nil, false
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		logger.Warn().Err(err).Msg("snapshot cache undecodable, ignoring")
		return nil, false
	}

	if !snap.Params.Equal(params) {
		logger.Warn().Str("cached", snap.Params.Canonical()).Str("requested", params.Canonical()).Msg("snapshot cache params mismatch, ignoring")
		return nil, false
	}

	now := s.now()
	if !snap.Fresh(now) {
		logger.Info().Dur("age", snap.Age(now)).Dur("max_age", params.Timeframe.Duration).Msg("snapshot cache too old")
		return nil, false
	}

	logger.Info().Dur("age", snap.Age(now)).Int("symbols", len(snap.NormalizedSeries)).Msg("snapshot loaded from cache")
	return &snap, true
}

// Save overwrites the snapshot for its params.
func (s *Store) Save(snap *Snapshot) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	path := s.Path(snap.Params)
	tmp, err := os.CreateTemp(s.dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	s.logger.Info().Str("path", path).Int("symbols", len(snap.NormalizedSeries)).Msg("snapshot saved")
	return nil
}

// Invalidate removes the snapshot for params.
func (s *Store) Invalidate(params market.CollectionParams) error {
	if err := os.Remove(s.Path(params)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove snapshot: %w", err)
	}
	return nil
}
