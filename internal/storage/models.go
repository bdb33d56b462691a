package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceRecord is a persisted price interval. PerKwh is in minor currency
// units (cents) per kWh and may be negative during export events.
type PriceRecord struct {
	SiteID        string
	ChannelType   string
	IntervalStart time.Time
	IntervalEnd   time.Time
	PerKwh        decimal.Decimal
	Renewables    *decimal.Decimal
	Descriptor    string
	UpdatedAt     time.Time
}

// UsageRecord is a persisted usage interval. Cost, when present, is in the
// same minor currency units as PriceRecord.PerKwh.
type UsageRecord struct {
	SiteID            string
	ChannelType       string
	ChannelIdentifier string
	IntervalStart     time.Time
	IntervalEnd       time.Time
	Kwh               decimal.Decimal
	Cost              *decimal.Decimal
	Quality           string
	UpdatedAt         time.Time
}
