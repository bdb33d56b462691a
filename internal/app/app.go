// Package app wires configuration into running components for the CLI
// commands.
package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"homewatt/internal/amber"
	"homewatt/internal/config"
	"homewatt/internal/freshness"
	"homewatt/internal/resolver"
	"homewatt/internal/storage"
	"homewatt/internal/totals"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// openStore opens the configured backend. The sqlite driver is the
// appliance default; postgres serves multi-writer deployments.
func (a *App) openStore(ctx context.Context) (storage.Store, func(), error) {
	switch a.Config.Database.Driver {
	case "postgres":
		store, err := storage.OpenPostgres(ctx, storage.PoolConfig{
			DSN:             a.Config.Database.DSN,
			MaxOpenConns:    a.Config.Database.MaxOpenConns,
			MaxIdleConns:    a.Config.Database.MaxIdleConns,
			ConnMaxLifetime: a.Config.Database.ConnMaxLifetime,
		}, a.Config.Cache.Grid)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		store, err := storage.OpenSQLite(a.Config.Database.Path, a.Config.Cache.Grid)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
}

// newSource returns nil when credentials are absent; every consumer treats
// a nil source as "cache only".
func (a *App) newSource() (amber.Source, error) {
	if !a.Config.Amber.Credentialed() {
		a.Logger.Warn().Msg("amber token or site not configured; live fetch disabled")
		return nil, nil
	}
	loc, err := a.Config.Cache.Location()
	if err != nil {
		return nil, err
	}
	return amber.NewClient(amber.Options{
		BaseURL:   a.Config.Amber.BaseURL,
		Token:     a.Config.Amber.Token,
		Timeout:   a.Config.Amber.RequestTimeout,
		UserAgent: a.Config.Amber.UserAgent,
		Location:  loc,
	}, a.Logger), nil
}

func (a *App) thresholds() freshness.Thresholds {
	return freshness.Thresholds{
		PriceFresh:   a.Config.Freshness.PriceFresh,
		UsageFresh:   a.Config.Freshness.UsageFresh,
		UsageLagging: a.Config.Freshness.UsageLagging,
	}
}

func (a *App) newResolver(store storage.Store, source amber.Source) *resolver.Resolver {
	return resolver.New(store, source, resolver.Options{
		SiteID:       a.Config.Amber.SiteID,
		ChannelType:  a.Config.Cache.ChannelType,
		Grid:         a.Config.Cache.Grid,
		FetchTimeout: a.Config.Amber.RequestTimeout,
		Thresholds:   a.thresholds(),
		MaxForecast:  a.Config.Forecast.MaxHours,
	}, a.Logger)
}

func (a *App) newTotals(store storage.Store) (*totals.Calculator, error) {
	loc, err := a.Config.Cache.Location()
	if err != nil {
		return nil, err
	}
	return totals.New(store, loc, a.Config.Amber.SiteID, a.Config.Cache.ChannelType, a.Config.Freshness.UsageFresh), nil
}

// ExportOptions hold parameters for exporting cached price history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
