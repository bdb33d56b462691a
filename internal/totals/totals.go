// Package totals derives month-to-date spend from cached usage intervals.
// Billing months are civil-calendar concepts in the configured timezone;
// the store is UTC-normalized, so the month boundary is computed locally
// and converted before querying.
package totals

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"homewatt/internal/storage"
)

// Calculator computes windowed usage-cost sums.
type Calculator struct {
	store       storage.Store
	location    *time.Location
	usageFresh  time.Duration
	siteID      string
	channelType string
	now         func() time.Time
}

// New constructs a calculator for the given site and billing timezone.
func New(store storage.Store, location *time.Location, siteID, channelType string, usageFresh time.Duration) *Calculator {
	if usageFresh <= 0 {
		usageFresh = 30 * time.Minute
	}
	return &Calculator{
		store:       store,
		location:    location,
		usageFresh:  usageFresh,
		siteID:      siteID,
		channelType: channelType,
		now:         time.Now,
	}
}

// Result is a month-to-date summary. HasData=false means no usage interval
// has landed in the window yet - distinct from a true zero-cost month.
// Delayed=true flags the total as a lower bound: the newest usage record is
// older than the usage freshness threshold, so recent spend is missing.
type Result struct {
	TotalCost  decimal.Decimal
	Intervals  int
	AsOf       *time.Time
	Delayed    bool
	HasData    bool
	MonthStart time.Time
	Timezone   string
}

// MonthToDate sums usage cost over [start_of_current_month_local, now].
// Costs are summed in minor currency units (cents), the same unit stored
// rows carry; no conversion happens on any path.
func (c *Calculator) MonthToDate(ctx context.Context) (Result, error) {
	now := c.now().UTC()
	nowLocal := now.In(c.location)
	monthStartLocal := time.Date(nowLocal.Year(), nowLocal.Month(), 1, 0, 0, 0, 0, c.location)
	monthStartUTC := monthStartLocal.UTC()

	result := Result{
		MonthStart: monthStartUTC,
		Timezone:   c.location.String(),
	}

	// UsageBetween is half-open on the right; the window here is inclusive
	// of now, so the bound is nudged past it.
	records, err := c.store.UsageBetween(ctx, c.siteID, c.channelType, monthStartUTC, now.Add(time.Second))
	if err != nil {
		return Result{}, err
	}
	if len(records) == 0 {
		return result, nil
	}

	// Rows without a cost are excluded from both the sum and the count; the
	// provider backfills cost later for some interval qualities.
	total := decimal.Zero
	counted := 0
	for _, rec := range records {
		if rec.Cost != nil {
			total = total.Add(*rec.Cost)
			counted++
		}
	}

	latest := records[len(records)-1]
	asOf := latest.IntervalEnd

	result.TotalCost = total
	result.Intervals = counted
	result.AsOf = &asOf
	result.Delayed = now.Sub(latest.IntervalStart) > c.usageFresh
	result.HasData = true
	return result, nil
}
