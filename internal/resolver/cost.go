package resolver

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"homewatt/internal/freshness"
)

var decMinutesPerHour = decimal.NewFromInt(60)

// CostResult is an instantaneous cost-per-hour estimate: the usage
// interval's average power multiplied by the matching price. It is not an
// integral over sub-interval variation; a spiky load inside one interval
// reads the same as a flat one.
type CostResult struct {
	CostPerHour     decimal.Decimal
	UsageKw         decimal.Decimal
	PricePerKwh     decimal.Decimal
	IntervalMinutes int64
	IntervalStart   time.Time
	Source          string
	Stale           bool
	HasData         bool
	FetchErr        error
}

// NoData reports the explicit empty outcome.
func (r CostResult) NoData() bool { return !r.HasData }

// CostEstimate derives cents-per-hour from the current usage interval and
// the price at the same interval_start.
func (r *Resolver) CostEstimate(ctx context.Context) (CostResult, error) {
	usage, err := r.CurrentUsage(ctx)
	if err != nil {
		return CostResult{}, err
	}
	if usage.NoData() {
		return CostResult{FetchErr: usage.FetchErr}, nil
	}

	rec := usage.Record
	stale := usage.Stale
	source := usage.Source

	// Price matched by exact interval_start first; the chain's latest-known
	// price keeps the estimate alive when the exact interval is missing.
	price, err := r.store.PriceForInterval(ctx, r.opts.SiteID, r.opts.ChannelType, rec.IntervalStart)
	if err != nil {
		return CostResult{}, err
	}
	var perKwh decimal.Decimal
	if price != nil {
		perKwh = price.PerKwh
	} else {
		priceRes, err := r.CurrentPrice(ctx)
		if err != nil {
			return CostResult{}, err
		}
		if priceRes.NoData() {
			return CostResult{FetchErr: priceRes.FetchErr}, nil
		}
		perKwh = priceRes.Record.PerKwh
		stale = true
		if priceRes.Source == SourceLive {
			source = SourceLive
		}
	}

	minutes := int64(rec.IntervalEnd.Sub(rec.IntervalStart) / time.Minute)
	if minutes <= 0 {
		minutes = int64(r.opts.Grid / time.Minute)
	}

	// kWh * 60 / minutes keeps the division exact for whole-minute grids.
	usageKw := rec.Kwh.Mul(decMinutesPerHour).Div(decimal.NewFromInt(minutes))
	costPerHour := usageKw.Mul(perKwh)

	if usage.Status == freshness.VeryStale {
		stale = true
	}

	return CostResult{
		CostPerHour:     costPerHour,
		UsageKw:         usageKw,
		PricePerKwh:     perKwh,
		IntervalMinutes: minutes,
		IntervalStart:   rec.IntervalStart,
		Source:          source,
		Stale:           stale,
		HasData:         true,
	}, nil
}
