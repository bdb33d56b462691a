package resolver

import (
	"context"
	"time"

	"homewatt/internal/amber"
	"homewatt/internal/storage"
)

// ForecastResult is an ordered window of future price intervals.
type ForecastResult struct {
	Intervals []storage.PriceRecord
	Hours     int
	Source    string
	FetchErr  error
}

// Forecast returns the cached future price intervals for the next N hours,
// N clamped to [1, MaxForecast]. An empty window triggers one live fetch of
// the current-price feed (which carries forecast intervals) before
// re-reading, so the window is cached for subsequent calls.
func (r *Resolver) Forecast(ctx context.Context, hours int) (ForecastResult, error) {
	if hours < 1 {
		hours = 1
	}
	if hours > r.opts.MaxForecast {
		hours = r.opts.MaxForecast
	}

	now := r.now().UTC()
	// Strictly future: the interval containing now belongs to /api/price.
	from := storage.FloorToGrid(now, r.opts.Grid).Add(r.opts.Grid)
	to := from.Add(time.Duration(hours) * time.Hour)

	records, err := r.store.PricesBetween(ctx, r.opts.SiteID, r.opts.ChannelType, from, to)
	if err != nil {
		return ForecastResult{}, err
	}
	if len(records) > 0 || r.source == nil {
		return ForecastResult{Intervals: records, Hours: hours, Source: SourceCache}, nil
	}

	prices, fetchErr := r.fetchPrices(ctx)
	if fetchErr != nil {
		r.logger.Warn().Err(fetchErr).Msg("forecast live fetch failed")
		return ForecastResult{Intervals: records, Hours: hours, Source: SourceCache, FetchErr: fetchErr}, nil
	}
	r.writeThroughPrices(ctx, amber.PriceRecords(prices, r.opts.SiteID, r.opts.ChannelType, r.opts.Grid, now))

	records, err = r.store.PricesBetween(ctx, r.opts.SiteID, r.opts.ChannelType, from, to)
	if err != nil {
		return ForecastResult{}, err
	}
	return ForecastResult{Intervals: records, Hours: hours, Source: SourceLive}, nil
}
