// Package resolver answers "what is the value for this interval" with a
// strict fallback chain: exact cached row, then the most recent cached row,
// then - only when the cache holds nothing at all - a live fetch. Live data
// is always written through to the store before it is returned, so the
// dashboard stays fully functional on cache alone.
package resolver

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"homewatt/internal/amber"
	"homewatt/internal/freshness"
	"homewatt/internal/storage"
)

// Data provenance tags surfaced to the HTTP layer.
const (
	SourceCache = "cache"
	SourceLive  = "live"
)

// Options tune the resolver.
type Options struct {
	SiteID       string
	ChannelType  string
	Grid         time.Duration
	FetchTimeout time.Duration
	Thresholds   freshness.Thresholds
	MaxForecast  int // hours
}

// Resolver is the read-through layer between the store and the upstream
// source. A nil source means credentials are absent; live fetch is then
// skipped entirely and the chain ends at the cache.
type Resolver struct {
	store  storage.Store
	source amber.Source
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a resolver. source may be nil.
func New(store storage.Store, source amber.Source, opts Options, logger zerolog.Logger) *Resolver {
	if opts.Grid <= 0 {
		opts.Grid = 5 * time.Minute
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.ChannelType == "" {
		opts.ChannelType = "general"
	}
	if opts.MaxForecast < 1 {
		opts.MaxForecast = 6
	}
	if opts.Thresholds == (freshness.Thresholds{}) {
		opts.Thresholds = freshness.DefaultThresholds()
	}
	return &Resolver{
		store:  store,
		source: source,
		opts:   opts,
		logger: logger.With().Str("component", "resolver").Logger(),
		now:    time.Now,
	}
}

// PriceResult is the outcome of a price resolution. A nil Record with a nil
// error is the well-defined no-data outcome; FetchErr carries the upstream
// failure when a live attempt was made and lost.
type PriceResult struct {
	Record   *storage.PriceRecord
	Source   string
	Stale    bool
	Status   freshness.Status
	FetchErr error
}

// NoData reports the explicit empty outcome.
func (r PriceResult) NoData() bool { return r.Record == nil }

// UsageResult mirrors PriceResult for the usage series.
type UsageResult struct {
	Record   *storage.UsageRecord
	Source   string
	Stale    bool
	Status   freshness.Status
	FetchErr error
}

// NoData reports the explicit empty outcome.
func (r UsageResult) NoData() bool { return r.Record == nil }

// CurrentPrice resolves the price for the interval containing now.
func (r *Resolver) CurrentPrice(ctx context.Context) (PriceResult, error) {
	now := r.now().UTC()
	target := storage.FloorToGrid(now, r.opts.Grid)

	rec, err := r.store.PriceForInterval(ctx, r.opts.SiteID, r.opts.ChannelType, target)
	if err != nil {
		return PriceResult{}, err
	}
	if rec != nil {
		status := r.opts.Thresholds.Price(now.Sub(rec.IntervalStart))
		return PriceResult{Record: rec, Source: SourceCache, Stale: !status.IsFresh(), Status: status}, nil
	}

	latest, err := r.store.LatestPrice(ctx, r.opts.SiteID, r.opts.ChannelType, now)
	if err != nil {
		return PriceResult{}, err
	}
	if latest != nil {
		// Not the requested interval, so always marked stale.
		return PriceResult{
			Record: latest,
			Source: SourceCache,
			Stale:  true,
			Status: r.opts.Thresholds.Price(now.Sub(latest.IntervalStart)),
		}, nil
	}

	if r.source == nil {
		return PriceResult{Status: freshness.Unknown}, nil
	}

	prices, fetchErr := r.fetchPrices(ctx)
	if fetchErr != nil {
		r.logger.Warn().Err(fetchErr).Msg("live price fetch failed with empty cache")
		return PriceResult{Status: freshness.Unknown, FetchErr: fetchErr}, nil
	}

	records := amber.PriceRecords(prices, r.opts.SiteID, r.opts.ChannelType, r.opts.Grid, now)
	r.writeThroughPrices(ctx, records)

	current := pickCurrent(records, target)
	if current == nil {
		return PriceResult{Status: freshness.Unknown}, nil
	}
	// The feed window may lack the target interval; an older record picked
	// up live is still judged by its age like the cache paths.
	status := r.opts.Thresholds.Price(now.Sub(current.IntervalStart))
	return PriceResult{
		Record: current,
		Source: SourceLive,
		Stale:  !current.IntervalStart.Equal(target) || !status.IsFresh(),
		Status: status,
	}, nil
}

// CurrentUsage resolves the most recent usage interval via the same chain.
func (r *Resolver) CurrentUsage(ctx context.Context) (UsageResult, error) {
	now := r.now().UTC()
	target := storage.FloorToGrid(now, r.opts.Grid)

	rec, err := r.store.UsageForInterval(ctx, r.opts.SiteID, r.opts.ChannelType, target)
	if err != nil {
		return UsageResult{}, err
	}
	if rec != nil {
		status := r.opts.Thresholds.Usage(now.Sub(rec.IntervalStart))
		return UsageResult{Record: rec, Source: SourceCache, Stale: !status.IsFresh(), Status: status}, nil
	}

	latest, err := r.store.LatestUsage(ctx, r.opts.SiteID, r.opts.ChannelType, now)
	if err != nil {
		return UsageResult{}, err
	}
	if latest != nil {
		return UsageResult{
			Record: latest,
			Source: SourceCache,
			Stale:  true,
			Status: r.opts.Thresholds.Usage(now.Sub(latest.IntervalStart)),
		}, nil
	}

	if r.source == nil {
		return UsageResult{Status: freshness.Unknown}, nil
	}

	fctx, cancel := context.WithTimeout(ctx, r.opts.FetchTimeout)
	usage, fetchErr := r.source.RecentUsage(fctx, r.opts.SiteID, 1)
	cancel()
	if fetchErr != nil {
		r.logger.Warn().Err(fetchErr).Msg("live usage fetch failed with empty cache")
		return UsageResult{Status: freshness.Unknown, FetchErr: fetchErr}, nil
	}
	if len(usage) == 0 {
		return UsageResult{Status: freshness.Unknown}, nil
	}

	records := amber.UsageRecords(usage, r.opts.SiteID, r.opts.ChannelType, r.opts.Grid, now)
	r.writeThroughUsage(ctx, records)

	latestRec := &records[0]
	status := r.opts.Thresholds.Usage(now.Sub(latestRec.IntervalStart))
	return UsageResult{Record: latestRec, Source: SourceLive, Stale: !status.IsFresh(), Status: status}, nil
}

func (r *Resolver) fetchPrices(ctx context.Context) ([]amber.PriceInterval, error) {
	fctx, cancel := context.WithTimeout(ctx, r.opts.FetchTimeout)
	defer cancel()
	return r.source.CurrentPrices(fctx, r.opts.SiteID)
}

// Write-through runs on a context detached from the request: once a live
// fetch succeeds the rows reach the store even if the caller is gone.
func (r *Resolver) writeThroughPrices(ctx context.Context, records []storage.PriceRecord) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.FetchTimeout)
	defer cancel()
	if err := r.store.UpsertPrices(wctx, records); err != nil {
		r.logger.Error().Err(err).Msg("write-through of live prices failed")
	}
}

func (r *Resolver) writeThroughUsage(ctx context.Context, records []storage.UsageRecord) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.FetchTimeout)
	defer cancel()
	if err := r.store.UpsertUsage(wctx, records); err != nil {
		r.logger.Error().Err(err).Msg("write-through of live usage failed")
	}
}

func pickCurrent(records []storage.PriceRecord, target time.Time) *storage.PriceRecord {
	for i := range records {
		if records[i].IntervalStart.Equal(target) {
			return &records[i]
		}
	}
	// Feed window did not include the requested interval; take the most
	// recent one that has started.
	var best *storage.PriceRecord
	for i := range records {
		if records[i].IntervalStart.After(target) {
			continue
		}
		if best == nil || records[i].IntervalStart.After(best.IntervalStart) {
			best = &records[i]
		}
	}
	return best
}
