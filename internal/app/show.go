package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints recent panel builds.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show run history")
	}
	if closeStore != nil {
		defer closeStore()
	}

	runs, err := store.ListRecentRuns(ctx, opts.Panel, opts.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.out, "no runs found")
		return nil
	}

	writer := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Started (UTC)\tPanel\tParams\tScope\tCoverage\tCoverage%\tDuration\tStatus\tSummary/Error")

	for _, run := range runs {
		detail := run.Summary
		if run.Error != nil {
			detail = sanitizeInline(*run.Error)
		}
		scope := run.Scope
		if scope == "" {
			scope = "-"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\t%s\n",
			run.StartedAt.UTC().Format(time.RFC3339),
			run.Panel,
			run.ParamsKey,
			scope,
			run.Retained,
			run.Total,
			formatDecimal(run.Coverage, 2),
			(time.Duration(run.DurationMS) * time.Millisecond).String(),
			run.Status,
			detail,
		)
	}

	writer.Flush()

	if total, err := store.CountRuns(ctx); err == nil {
		fmt.Fprintf(a.out, "showing %d of %d runs\n", len(runs), total)
	}
	return nil
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
