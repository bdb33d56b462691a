// Package freshness classifies the age of cached interval data. All
// functions are pure; I/O and clock reads stay with the callers.
package freshness

import "time"

// Status describes how far behind a single series is.
type Status string

const (
	Fresh     Status = "fresh"
	Stale     Status = "stale"
	VeryStale Status = "very_stale"
	// Unknown means no record exists at all, so age is undefined.
	Unknown Status = "unknown"
)

// IsFresh reports whether the status is within its freshness threshold.
func (s Status) IsFresh() bool {
	return s == Fresh
}

// Health is the aggregate status across both series.
type Health string

const (
	HealthOK      Health = "ok"
	HealthStale   Health = "stale"
	HealthUnknown Health = "unknown"
)

// Thresholds carries the per-series staleness boundaries.
type Thresholds struct {
	PriceFresh   time.Duration
	UsageFresh   time.Duration
	UsageLagging time.Duration
}

// DefaultThresholds returns the appliance defaults: prices turn stale after
// 15 minutes; usage lags for up to 4 hours before it is considered very
// stale (the meter feed routinely runs behind).
func DefaultThresholds() Thresholds {
	return Thresholds{
		PriceFresh:   15 * time.Minute,
		UsageFresh:   30 * time.Minute,
		UsageLagging: 4 * time.Hour,
	}
}

// Price classifies a price age. Prices have no very-stale tier: a price is
// either current enough to display or it is not.
func (t Thresholds) Price(age time.Duration) Status {
	if age <= t.PriceFresh {
		return Fresh
	}
	return Stale
}

// Usage classifies a usage age. The middle tier covers the meter feed's
// normal reporting lag.
func (t Thresholds) Usage(age time.Duration) Status {
	switch {
	case age <= t.UsageFresh:
		return Fresh
	case age <= t.UsageLagging:
		return Stale
	default:
		return VeryStale
	}
}

// Aggregate combines both series into a single health status: ok only when
// both are fresh, unknown when either series has no data at all.
func Aggregate(price, usage Status) Health {
	if price == Unknown || usage == Unknown {
		return HealthUnknown
	}
	if price.IsFresh() && usage.IsFresh() {
		return HealthOK
	}
	return HealthStale
}
