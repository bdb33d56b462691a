package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints recently cached price intervals.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	if opts.Limit <= 0 {
		opts.Limit = 24
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC().Add(time.Duration(a.Config.Forecast.MaxHours) * time.Hour)
	from := to.Add(-time.Duration(opts.Limit) * a.Config.Cache.Grid).Add(-time.Duration(a.Config.Forecast.MaxHours) * time.Hour)

	records, err := store.PricesBetween(ctx, a.Config.Amber.SiteID, a.Config.Cache.ChannelType, from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no cached prices found")
		return nil
	}
	if len(records) > opts.Limit {
		records = records[len(records)-opts.Limit:]
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Interval Start (UTC)\tPerKwh (c)\tRenewables %\tDescriptor")

	for _, rec := range records {
		renewables := "-"
		if rec.Renewables != nil {
			renewables = rec.Renewables.StringFixed(1)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\n",
			rec.IntervalStart.UTC().Format(time.RFC3339),
			rec.PerKwh.StringFixed(2),
			renewables,
			rec.Descriptor,
		)
	}

	writer.Flush()
	return nil
}
