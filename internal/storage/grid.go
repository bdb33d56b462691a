package storage

import "time"

// FloorToGrid truncates an instant to the start of its grid interval as a
// whole-second UTC timestamp.
func FloorToGrid(t time.Time, grid time.Duration) time.Time {
	return t.UTC().Truncate(grid)
}

// legacyAlias returns the historical +1s encoding of a canonical interval
// start. The upstream feed emitted :01 boundaries for a period; rows written
// back then are still in storage, so exact reads check both encodings.
func legacyAlias(start time.Time) time.Time {
	return start.Add(time.Second)
}

// Reads never trust stored timestamps to be canonical: legacy rows are
// re-aligned on the way out rather than migrated in place.
func (p *PriceRecord) normalize(grid time.Duration) {
	p.IntervalStart = FloorToGrid(p.IntervalStart, grid)
	p.IntervalEnd = p.IntervalStart.Add(grid)
}

func (u *UsageRecord) normalize(grid time.Duration) {
	u.IntervalStart = FloorToGrid(u.IntervalStart, grid)
	u.IntervalEnd = u.IntervalStart.Add(grid)
}
