package market

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

var timeframes = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  3 * 24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// Timeframe is a named sampling interval.
type Timeframe struct {
	Name     string
	Duration time.Duration
}

// ParseTimeframe resolves an exchange interval name such as "5m".
func ParseTimeframe(name string) (Timeframe, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	d, ok := timeframes[key]
	if !ok {
		return Timeframe{}, fmt.Errorf("unsupported timeframe %q", name)
	}
	return Timeframe{Name: key, Duration: d}, nil
}

// MustTimeframe panics on unknown names; for constants and tests.
func MustTimeframe(name string) Timeframe {
	tf, err := ParseTimeframe(name)
	if err != nil {
		panic(err)
	}
	return tf
}

func (t Timeframe) String() string { return t.Name }

// MarshalJSON encodes the timeframe by name.
func (t Timeframe) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Name)
}

// UnmarshalJSON decodes a timeframe name.
func (t *Timeframe) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseTimeframe(name)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// RequestRange is the number of bars requested.
type RequestRange struct {
	Bars int `json:"bars"`
}

// Span is the wall-clock window the range covers at tf.
func (r RequestRange) Span(tf Timeframe) time.Duration {
	return time.Duration(r.Bars) * tf.Duration
}

// Validate rejects empty ranges.
func (r RequestRange) Validate() error {
	if r.Bars <= 0 {
		return fmt.Errorf("request range must be positive, got %d bars", r.Bars)
	}
	return nil
}

// CollectionParams identifies one cache namespace.
type CollectionParams struct {
	Timeframe  Timeframe    `json:"timeframe"`
	Range      RequestRange `json:"range"`
	Instrument Instrument   `json:"instrument"`
}

// Canonical is the stable textual encoding hashed into cache and lock keys.
func (p CollectionParams) Canonical() string {
	return fmt.Sprintf("%s|%s|%d", p.Instrument, p.Timeframe.Name, p.Range.Bars)
}

// Hash is the xxhash64 of the canonical encoding.
func (p CollectionParams) Hash() uint64 {
	return xxhash.Sum64String(p.Canonical())
}

// Equal compares the identifying fields only.
func (p CollectionParams) Equal(o CollectionParams) bool {
	return p.Canonical() == o.Canonical()
}
