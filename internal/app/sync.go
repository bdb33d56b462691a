package app

import (
	"context"
	"errors"

	"homewatt/internal/syncer"
)

// Sync runs one refresh+retention pass and exits. Intended for cron-style
// deployments where the serve process is not the writer.
func (a *App) Sync(ctx context.Context) error {
	source, err := a.newSource()
	if err != nil {
		return err
	}
	if source == nil {
		return errors.New("amber token and site_id are required for sync")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	job := syncer.New(store, source, a.syncOptions(), a.Logger)
	summary, err := job.Run(ctx)
	if err != nil {
		return err
	}
	if summary.Skipped {
		return nil
	}
	return summary.Err()
}
