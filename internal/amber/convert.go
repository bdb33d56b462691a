package amber

import (
	"time"

	"homewatt/internal/storage"
)

// Conversion to stored records happens before rows reach the store: grid
// alignment is the caller's job on write, the store's only on read.

// PriceRecords maps fetched price intervals onto canonical grid-aligned
// store rows.
func PriceRecords(prices []PriceInterval, siteID, defaultChannel string, grid time.Duration, updatedAt time.Time) []storage.PriceRecord {
	records := make([]storage.PriceRecord, 0, len(prices))
	for _, p := range prices {
		start := storage.FloorToGrid(p.StartTime, grid)
		records = append(records, storage.PriceRecord{
			SiteID:        siteID,
			ChannelType:   orDefault(p.ChannelType, defaultChannel),
			IntervalStart: start,
			IntervalEnd:   start.Add(grid),
			PerKwh:        p.PerKwh,
			Renewables:    p.Renewables,
			Descriptor:    p.Descriptor,
			UpdatedAt:     updatedAt,
		})
	}
	return records
}

// UsageRecords maps fetched usage intervals onto canonical grid-aligned
// store rows. Cost and quality pass through untouched.
func UsageRecords(usage []UsageInterval, siteID, defaultChannel string, grid time.Duration, updatedAt time.Time) []storage.UsageRecord {
	records := make([]storage.UsageRecord, 0, len(usage))
	for _, u := range usage {
		start := storage.FloorToGrid(u.StartTime, grid)
		records = append(records, storage.UsageRecord{
			SiteID:            siteID,
			ChannelType:       orDefault(u.ChannelType, defaultChannel),
			ChannelIdentifier: u.ChannelIdentifier,
			IntervalStart:     start,
			IntervalEnd:       start.Add(grid),
			Kwh:               u.Kwh,
			Cost:              u.Cost,
			Quality:           u.Quality,
			UpdatedAt:         updatedAt,
		})
	}
	return records
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
