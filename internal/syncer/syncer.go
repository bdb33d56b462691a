// Package syncer keeps the interval cache warm and bounded. A run fetches
// the latest price and usage intervals, upserts them, and prunes rows
// outside the retention window. Failure of one series never aborts the
// other series or the prune.
package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"homewatt/internal/amber"
	"homewatt/internal/storage"
)

// Options tune the sync job.
type Options struct {
	SiteID        string
	ChannelType   string
	Grid          time.Duration
	RetentionDays int
	FetchTimeout  time.Duration
	UsageBatch    int
	LockKey       int64
}

// Job is one idempotent refresh+retention pass over the interval store.
type Job struct {
	store  storage.Store
	source amber.Source
	locker storage.AdvisoryLocker
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a sync job. The advisory lock gate only engages on
// backends that support it.
func New(store storage.Store, source amber.Source, opts Options, logger zerolog.Logger) *Job {
	if opts.Grid <= 0 {
		opts.Grid = 5 * time.Minute
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = 14
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.ChannelType == "" {
		opts.ChannelType = "general"
	}
	if opts.UsageBatch <= 0 {
		opts.UsageBatch = 12
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Job{
		store:  store,
		source: source,
		locker: locker,
		opts:   opts,
		logger: logger.With().Str("component", "syncer").Logger(),
		now:    time.Now,
	}
}

// Summary reports one run's per-step outcome. The job does not fail
// atomically: each series and the prune succeed or fail independently.
type Summary struct {
	PricesWritten int
	UsageWritten  int
	Pruned        int64
	PriceErr      error
	UsageErr      error
	PruneErr      error
	Skipped       bool
}

// Err joins the per-step failures, nil when everything succeeded.
func (s Summary) Err() error {
	return errors.Join(s.PriceErr, s.UsageErr, s.PruneErr)
}

// Run executes one sync pass. Re-running with overlapping data is safe:
// upserts are keyed and replace.
func (j *Job) Run(ctx context.Context) (Summary, error) {
	unlock, proceed, err := j.acquireLock(ctx)
	if err != nil {
		return Summary{}, err
	}
	if !proceed {
		j.logger.Debug().Msg("skip run, advisory lock held elsewhere")
		return Summary{Skipped: true}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	now := j.now().UTC()
	var summary Summary

	summary.PricesWritten, summary.PriceErr = j.syncPrices(ctx, now)
	summary.UsageWritten, summary.UsageErr = j.syncUsage(ctx, now)

	cutoff := now.AddDate(0, 0, -j.opts.RetentionDays)
	summary.Pruned, summary.PruneErr = j.store.Prune(ctx, cutoff)

	// Single status line consumed by external log collection.
	j.logger.Info().
		Int("prices", summary.PricesWritten).
		Int("usage", summary.UsageWritten).
		Int64("pruned", summary.Pruned).
		AnErr("price_err", summary.PriceErr).
		AnErr("usage_err", summary.UsageErr).
		AnErr("prune_err", summary.PruneErr).
		Msg("sync complete")

	return summary, nil
}

func (j *Job) syncPrices(ctx context.Context, now time.Time) (int, error) {
	fctx, cancel := context.WithTimeout(ctx, j.opts.FetchTimeout)
	prices, err := j.source.CurrentPrices(fctx, j.opts.SiteID)
	cancel()
	if err != nil {
		return 0, err
	}

	records := amber.PriceRecords(prices, j.opts.SiteID, j.opts.ChannelType, j.opts.Grid, now)
	if err := j.store.UpsertPrices(ctx, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func (j *Job) syncUsage(ctx context.Context, now time.Time) (int, error) {
	fctx, cancel := context.WithTimeout(ctx, j.opts.FetchTimeout)
	usage, err := j.source.RecentUsage(fctx, j.opts.SiteID, j.opts.UsageBatch)
	cancel()
	if err != nil {
		return 0, err
	}

	records := amber.UsageRecords(usage, j.opts.SiteID, j.opts.ChannelType, j.opts.Grid, now)
	if err := j.store.UpsertUsage(ctx, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func (j *Job) acquireLock(ctx context.Context) (func(), bool, error) {
	if j.opts.LockKey == 0 || j.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := j.locker.TryAdvisoryLock(ctx, j.opts.LockKey)
	if err != nil {
		return nil, false, err
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
