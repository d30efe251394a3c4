package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"marketsnap/internal/exchange"
	"marketsnap/internal/market"
)

// Universe is the ordered set of symbols eligible for one build.
type Universe struct {
	Instrument market.Instrument
	Symbols    []market.Symbol
	index      map[market.Symbol]struct{}
}

// Total is the universe size used as the coverage denominator.
func (u Universe) Total() int {
	return len(u.Symbols)
}

// Contains reports whether sym is part of the universe.
func (u Universe) Contains(sym market.Symbol) bool {
	_, ok := u.index[sym]
	return ok
}

// ResolveUniverse lists trading symbols quoted in quote. Perpetual universes
// keep only PERPETUAL contracts.
func ResolveUniverse(ctx context.Context, client exchange.Client, inst market.Instrument, quote string) (Universe, error) {
	infos, err := client.ExchangeInfo(ctx, inst)
	if err != nil {
		return Universe{}, fmt.Errorf("exchange info (%s): %w", inst, err)
	}

	quote = strings.ToUpper(quote)
	u := Universe{Instrument: inst, index: make(map[market.Symbol]struct{}, len(infos))}
	for _, info := range infos {
		sym := info.Symbol
		if sym.Quote != quote || !strings.EqualFold(info.Status, "TRADING") {
			continue
		}
		if inst == market.Perp && !strings.EqualFold(info.ContractType, "PERPETUAL") {
			continue
		}
		sym.Instrument = inst
		if _, dup := u.index[sym]; dup {
			continue
		}
		u.index[sym] = struct{}{}
		u.Symbols = append(u.Symbols, sym)
	}
	sort.Slice(u.Symbols, func(i, j int) bool { return u.Symbols[i].Ticker() < u.Symbols[j].Ticker() })
	return u, nil
}
