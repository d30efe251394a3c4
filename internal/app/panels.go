package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"marketsnap/internal/market"
	"marketsnap/internal/registry"
	"marketsnap/internal/service"
)

// Structure builds the market-structure panel once and prints its legend.
func (a *App) Structure(ctx context.Context, opts StructureOptions) error {
	svcOpts, err := service.OptionsFromConfig(a.Config)
	if err != nil {
		return err
	}
	params, err := overrideParams(svcOpts.Structure, opts.Timeframe, opts.Bars, opts.Instrument)
	if err != nil {
		return err
	}
	if opts.JSONPath != "" {
		svcOpts.StructureJSONPath = opts.JSONPath
	}
	if opts.PNGPath != "" {
		svcOpts.StructurePNGPath = opts.PNGPath
	}

	svc, closeStore, err := a.newService(ctx, svcOpts, nil, nil)
	if err != nil {
		return err
	}
	defer closeStore()

	res, err := svc.BuildStructure(ctx, service.StructureRequest{Params: params, SkipCache: opts.NoCache})
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, res.Panel.Title)
	if res.Panel.CoverageWarning {
		fmt.Fprintln(a.out, "warning: coverage below threshold, data is incomplete")
	}
	for _, tr := range res.Panel.Traces {
		if tr.Label != "" {
			fmt.Fprintln(a.out, tr.Label)
		}
	}
	source := "exchange"
	if res.FromCache {
		source = "cache"
	}
	fmt.Fprintf(a.out, "collected %s from %s\n", res.Snapshot.CollectedAt.UTC().Format(time.RFC3339), source)
	for _, path := range []string{svcOpts.StructureJSONPath, svcOpts.StructurePNGPath} {
		if path != "" {
			fmt.Fprintf(a.out, "wrote %s\n", path)
		}
	}
	return nil
}

// Ratios builds the long/short ratio panel once. With symbols or a search
// query only the matching short renders are printed.
func (a *App) Ratios(ctx context.Context, opts RatioOptions) error {
	svcOpts, err := service.OptionsFromConfig(a.Config)
	if err != nil {
		return err
	}
	params, err := overrideParams(svcOpts.Ratio, opts.Timeframe, opts.Bars, "")
	if err != nil {
		return err
	}
	scope := svcOpts.RatioScope
	if opts.Scope != "" {
		if scope, err = market.ParseRatioScope(opts.Scope); err != nil {
			return err
		}
	}
	rows := svcOpts.RatioRows
	if opts.Rows != 0 {
		rows = opts.Rows
	}

	svc, closeStore, err := a.newService(ctx, svcOpts, nil, nil)
	if err != nil {
		return err
	}
	defer closeStore()

	res, err := svc.BuildRatios(ctx, service.RatioRequest{Params: params, Scope: scope, Rows: rows})
	if err != nil {
		return err
	}

	if len(opts.Symbols) == 0 && opts.Search == "" {
		fmt.Fprintln(a.out, res.Panel.Report)
		return nil
	}

	var symbols []market.Symbol
	for _, raw := range opts.Symbols {
		sym, err := parseSymbolArg(raw, svcOpts.QuoteAsset)
		if err != nil {
			return err
		}
		symbols = append(symbols, sym)
	}
	matches := res.Panel.Select(symbols)
	if opts.Search != "" {
		matches = append(matches, res.Panel.Search(opts.Search)...)
	}
	if len(matches) == 0 {
		fmt.Fprintln(a.out, "no matching pairs")
		return nil
	}
	for _, m := range matches {
		fmt.Fprintln(a.out, m.Render)
	}
	return nil
}

// ShowRegistry lists the symbols a no-data registry currently excludes.
func (a *App) ShowRegistry(ctx context.Context, opts RegistryOptions) error {
	reg, err := a.registryFor(opts.Panel)
	if err != nil {
		return err
	}
	if err := reg.Load(); err != nil {
		return err
	}

	members := reg.Members()
	writer := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Path\t%s\n", reg.Path())
	if at := reg.RefreshedAt(); !at.IsZero() {
		fmt.Fprintf(writer, "Generation start\t%s\n", at.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(writer, "Excluded\t%d\n", len(members))
	writer.Flush()
	for _, m := range members {
		fmt.Fprintln(a.out, m)
	}
	return nil
}

// ResetRegistry removes a no-data registry so every symbol is retried.
func (a *App) ResetRegistry(ctx context.Context, opts RegistryOptions) error {
	reg, err := a.registryFor(opts.Panel)
	if err != nil {
		return err
	}
	if err := reg.Reset(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "removed %s\n", reg.Path())
	return nil
}

func (a *App) registryFor(panel string) (*registry.Registry, error) {
	structure, ratio := a.newRegistries()
	switch strings.ToLower(panel) {
	case service.PanelStructure:
		return structure, nil
	case service.PanelRatio, "ratio":
		return ratio, nil
	default:
		return nil, fmt.Errorf("unknown panel %q (expected %s or %s)", panel, service.PanelStructure, service.PanelRatio)
	}
}

func overrideParams(base market.CollectionParams, tf string, bars int, inst string) (market.CollectionParams, error) {
	params := base
	if tf != "" {
		parsed, err := market.ParseTimeframe(tf)
		if err != nil {
			return params, err
		}
		params.Timeframe = parsed
	}
	if bars != 0 {
		params.Range = market.RequestRange{Bars: bars}
	}
	if inst != "" {
		parsed, err := market.ParseInstrument(inst)
		if err != nil {
			return params, err
		}
		params.Instrument = parsed
	}
	if err := params.Range.Validate(); err != nil {
		return params, err
	}
	return params, nil
}

// parseSymbolArg accepts BASE-QUOTE or a bare base asset.
func parseSymbolArg(raw, quote string) (market.Symbol, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return market.Symbol{}, errors.New("empty symbol")
	}
	if strings.ContainsAny(raw, "-/_") {
		return market.ParseSymbol(raw, market.Perp)
	}
	return market.NewSymbol(raw, quote, market.Perp), nil
}
