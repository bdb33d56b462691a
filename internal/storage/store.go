package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotConfigured indicates the store was not initialised.
	ErrNotConfigured = errors.New("storage: store not configured")
)

// Store is the durable interval cache shared by the resolver, the HTTP
// layer, and the sync job. A miss is a nil record with a nil error; an error
// always means the underlying storage is unavailable.
type Store interface {
	// UpsertPrices and UpsertUsage replace any row sharing the
	// (site, interval_start, channel) key. Re-running with the same input
	// leaves the stored state unchanged.
	UpsertPrices(ctx context.Context, records []PriceRecord) error
	UpsertUsage(ctx context.Context, records []UsageRecord) error

	// PriceForInterval and UsageForInterval return the row at the canonical
	// grid boundary for start, falling back to the legacy +1s encoding when
	// no canonical row exists. The canonical row wins when both exist.
	PriceForInterval(ctx context.Context, site, channel string, start time.Time) (*PriceRecord, error)
	UsageForInterval(ctx context.Context, site, channel string, start time.Time) (*UsageRecord, error)

	// LatestPrice and LatestUsage return the most recent row whose
	// interval_start is not after notAfter, keeping cached forecast rows out
	// of "latest known state".
	LatestPrice(ctx context.Context, site, channel string, notAfter time.Time) (*PriceRecord, error)
	LatestUsage(ctx context.Context, site, channel string, notAfter time.Time) (*UsageRecord, error)

	// PricesBetween and UsageBetween return rows with interval_start in
	// [from, to), ordered ascending.
	PricesBetween(ctx context.Context, site, channel string, from, to time.Time) ([]PriceRecord, error)
	UsageBetween(ctx context.Context, site, channel string, from, to time.Time) ([]UsageRecord, error)

	// Prune deletes rows from both series with interval_start before the
	// cutoff and reports how many were removed.
	Prune(ctx context.Context, before time.Time) (int64, error)

	Close() error
}

// AdvisoryLocker is implemented by backends that can serialize sync jobs
// across processes. The sqlite backend does not need it; the appliance is
// the only writer.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}
