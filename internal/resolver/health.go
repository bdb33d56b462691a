package resolver

import (
	"context"
	"time"

	"homewatt/internal/freshness"
)

// HealthSnapshot is derived on demand from the latest cached row of each
// series; it is never persisted. DataAgeSeconds is the age of the most
// recent series, kept for older display firmware that only knows the single
// combined field.
type HealthSnapshot struct {
	AppTime          time.Time
	DataSource       string
	LatestPriceStart *time.Time
	LatestUsageStart *time.Time
	PriceAgeSeconds  *int64
	UsageAgeSeconds  *int64
	DataAgeSeconds   *int64
	PriceStatus      freshness.Status
	UsageStatus      freshness.Status
	Status           freshness.Health
}

// Health computes the freshness snapshot. Forecast rows never count:
// LatestPrice/LatestUsage exclude interval starts after now.
func (r *Resolver) Health(ctx context.Context) (HealthSnapshot, error) {
	now := r.now().UTC()

	snap := HealthSnapshot{
		AppTime:     now,
		DataSource:  SourceCache,
		PriceStatus: freshness.Unknown,
		UsageStatus: freshness.Unknown,
	}

	price, err := r.store.LatestPrice(ctx, r.opts.SiteID, r.opts.ChannelType, now)
	if err != nil {
		return HealthSnapshot{}, err
	}
	if price != nil {
		start := price.IntervalStart
		age := int64(now.Sub(start) / time.Second)
		snap.LatestPriceStart = &start
		snap.PriceAgeSeconds = &age
		snap.PriceStatus = r.opts.Thresholds.Price(now.Sub(start))
	}

	usage, err := r.store.LatestUsage(ctx, r.opts.SiteID, r.opts.ChannelType, now)
	if err != nil {
		return HealthSnapshot{}, err
	}
	if usage != nil {
		start := usage.IntervalStart
		age := int64(now.Sub(start) / time.Second)
		snap.LatestUsageStart = &start
		snap.UsageAgeSeconds = &age
		snap.UsageStatus = r.opts.Thresholds.Usage(now.Sub(start))
	}

	switch {
	case snap.PriceAgeSeconds != nil && snap.UsageAgeSeconds != nil:
		age := min(*snap.PriceAgeSeconds, *snap.UsageAgeSeconds)
		snap.DataAgeSeconds = &age
	case snap.PriceAgeSeconds != nil:
		snap.DataAgeSeconds = snap.PriceAgeSeconds
	case snap.UsageAgeSeconds != nil:
		snap.DataAgeSeconds = snap.UsageAgeSeconds
	}

	snap.Status = freshness.Aggregate(snap.PriceStatus, snap.UsageStatus)
	return snap, nil
}
