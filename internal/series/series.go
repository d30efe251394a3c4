package series

import (
	"errors"
	"math"
	"sort"

	"marketsnap/internal/market"
)

var (
	// ErrEmptySeries means there is no first observation to normalise against.
	ErrEmptySeries = errors.New("series: empty")
	// ErrInvalidBase means the first close is zero, negative or not finite.
	ErrInvalidBase = errors.New("series: invalid first close")
)

// Normalize converts closes into log-returns against the first close.
// The first element is exactly zero.
func Normalize(closes []float64) ([]float64, error) {
	if len(closes) == 0 {
		return nil, ErrEmptySeries
	}
	base := closes[0]
	if base <= 0 || math.IsNaN(base) || math.IsInf(base, 0) {
		return nil, ErrInvalidBase
	}

	out := make([]float64, len(closes))
	for i, c := range closes {
		if i == 0 {
			out[i] = 0
			continue
		}
		out[i] = math.Log(c / base)
	}
	return out, nil
}

// Align keeps only series whose length equals indexLen. Dropped symbols are
// returned sorted; nothing is truncated or padded.
func Align(normalized map[market.Symbol][]float64, indexLen int) (map[market.Symbol][]float64, []market.Symbol) {
	kept := make(map[market.Symbol][]float64, len(normalized))
	var dropped []market.Symbol
	for sym, values := range normalized {
		if len(values) != indexLen {
			dropped = append(dropped, sym)
			continue
		}
		kept[sym] = values
	}
	sort.Slice(dropped, func(i, j int) bool { return dropped[i].String() < dropped[j].String() })
	return kept, dropped
}

// NetChange is last minus first; NaN for an empty series.
func NetChange(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1] - values[0]
}

// Last returns the latest value; NaN for an empty series.
func Last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}
