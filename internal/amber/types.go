package amber

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceInterval is one price observation or forecast from the upstream
// feed. PerKwh is in cents per kWh and may go negative.
type PriceInterval struct {
	Type        string           `json:"type"`
	StartTime   time.Time        `json:"startTime"`
	EndTime     time.Time        `json:"endTime"`
	PerKwh      decimal.Decimal  `json:"perKwh"`
	Renewables  *decimal.Decimal `json:"renewables,omitempty"`
	Descriptor  string           `json:"descriptor,omitempty"`
	ChannelType string           `json:"channelType,omitempty"`
	Duration    int              `json:"duration,omitempty"`
}

// Forecast reports whether this interval is a prediction rather than a
// settled observation.
func (p PriceInterval) Forecast() bool {
	return p.Type == "ForecastInterval"
}

// UsageInterval is one metered consumption window. Cost, when present, is
// in the same cent units as PriceInterval.PerKwh.
type UsageInterval struct {
	StartTime         time.Time        `json:"startTime"`
	EndTime           time.Time        `json:"endTime"`
	Kwh               decimal.Decimal  `json:"kwh"`
	Cost              *decimal.Decimal `json:"cost,omitempty"`
	Quality           string           `json:"quality,omitempty"`
	ChannelType       string           `json:"channelType,omitempty"`
	ChannelIdentifier string           `json:"channelIdentifier,omitempty"`
	Duration          int              `json:"duration,omitempty"`
}
