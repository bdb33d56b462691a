package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per interval with the grid-aligned tick time.
type TickFunc func(ctx context.Context, tick time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToGrid  bool
	StartupDelay time.Duration
}

// Scheduler drives the periodic sync job on grid-aligned ticks. It only
// invokes; the job owns its own semantics and error isolation.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking tick at each interval until ctx is cancelled. Tick
// errors are logged, never fatal: the next interval always gets its chance.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	next := s.next(time.Now().UTC())
	for {
		if delay := time.Until(next); delay < 0 {
			next = s.next(time.Now().UTC())
		}

		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")
		if err := sleep(ctx, time.Until(next)); err != nil {
			return err
		}

		tickAt := next
		if s.opts.AlignToGrid {
			tickAt = tickAt.Truncate(s.opts.Interval)
		}
		if err := tick(ctx, tickAt); err != nil {
			s.logger.Error().Err(err).Time("tick", tickAt).Msg("tick failed")
		}

		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) next(now time.Time) time.Time {
	if !s.opts.AlignToGrid {
		return now.Add(s.opts.Interval)
	}
	aligned := now.Truncate(s.opts.Interval)
	if !aligned.After(now) {
		aligned = aligned.Add(s.opts.Interval)
	}
	return aligned
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
