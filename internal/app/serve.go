package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"homewatt/internal/scheduler"
	"homewatt/internal/server"
	"homewatt/internal/syncer"
)

// Serve runs the HTTP surface and, when credentials are configured, the
// aligned background sync loop. Without credentials the server still
// serves everything already cached.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	source, err := a.newSource()
	if err != nil {
		return err
	}
	res := a.newResolver(store, source)
	calc, err := a.newTotals(store)
	if err != nil {
		return err
	}

	srv := server.New(res, calc, server.Options{
		ListenAddr:   a.Config.Server.ListenAddr,
		MaxForecast:  a.Config.Forecast.MaxHours,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}, a.Logger)

	if source != nil {
		job := syncer.New(store, source, a.syncOptions(), a.Logger)
		sched := scheduler.New(scheduler.Options{
			Interval:     a.Config.Sync.Interval,
			AlignToGrid:  a.Config.Sync.AlignToInterval,
			StartupDelay: a.Config.Sync.StartupDelay,
		}, a.Logger)

		go func() {
			err := sched.Run(ctx, func(ctx context.Context, _ time.Time) error {
				_, err := job.Run(ctx)
				return err
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error().Err(err).Msg("sync loop terminated")
			}
		}()
	} else {
		a.Logger.Info().Msg("serving from cache only; background sync disabled")
	}

	a.Logger.Info().Msg("starting telemetry service")
	err = srv.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("service stopped")
	return nil
}

func (a *App) syncOptions() syncer.Options {
	return syncer.Options{
		SiteID:        a.Config.Amber.SiteID,
		ChannelType:   a.Config.Cache.ChannelType,
		Grid:          a.Config.Cache.Grid,
		RetentionDays: a.Config.Cache.RetentionDays,
		FetchTimeout:  a.Config.Amber.RequestTimeout,
		LockKey:       a.Config.Sync.AdvisoryLockKey,
	}
}
