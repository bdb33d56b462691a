package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"homewatt/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Amber     AmberConfig     `mapstructure:"amber"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Freshness FreshnessConfig `mapstructure:"freshness"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Forecast  ForecastConfig  `mapstructure:"forecast"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig governs the HTTP listener.
type ServerConfig struct {
	ListenAddr   string        `mapstructure:"listen_addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig selects and tunes the interval store backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// AmberConfig covers upstream price/usage API access.
type AmberConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	SiteID         string        `mapstructure:"site_id"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// Credentialed reports whether live fetching is configured at all.
// Without both token and site the resolver serves cache only.
func (a AmberConfig) Credentialed() bool {
	return strings.TrimSpace(a.Token) != "" && strings.TrimSpace(a.SiteID) != ""
}

// CacheConfig shapes the interval cache.
type CacheConfig struct {
	Grid          time.Duration `mapstructure:"grid"`
	RetentionDays int           `mapstructure:"retention_days"`
	ChannelType   string        `mapstructure:"channel_type"`
	Timezone      string        `mapstructure:"timezone"`
}

// Location resolves the configured billing timezone.
func (c CacheConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// FreshnessConfig carries the staleness thresholds per series.
type FreshnessConfig struct {
	PriceFresh   time.Duration `mapstructure:"price_fresh"`
	UsageFresh   time.Duration `mapstructure:"usage_fresh"`
	UsageLagging time.Duration `mapstructure:"usage_lagging"`
}

// SyncConfig governs the periodic refresh cadence.
type SyncConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// ForecastConfig bounds the forecast window.
type ForecastConfig struct {
	MaxHours int `mapstructure:"max_hours"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HOMEWATT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "homewatt")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.listen_addr", ":5050")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data_local/cache.sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("amber.base_url", "https://api.amber.com.au/v1")
	// Empty defaults so AutomaticEnv surfaces HOMEWATT_AMBER_TOKEN and
	// HOMEWATT_AMBER_SITE_ID through Unmarshal; viper only resolves env
	// values for keys it already knows about.
	v.SetDefault("amber.token", "")
	v.SetDefault("amber.site_id", "")
	v.SetDefault("amber.request_timeout", "10s")
	v.SetDefault("amber.user_agent", "homewatt/1.0")

	v.SetDefault("cache.grid", "5m")
	v.SetDefault("cache.retention_days", 14)
	v.SetDefault("cache.channel_type", "general")
	v.SetDefault("cache.timezone", "Australia/Sydney")

	v.SetDefault("freshness.price_fresh", "15m")
	v.SetDefault("freshness.usage_fresh", "30m")
	v.SetDefault("freshness.usage_lagging", "4h")

	v.SetDefault("sync.interval", "5m")
	v.SetDefault("sync.align_to_interval", true)
	v.SetDefault("sync.startup_delay", "0s")
	v.SetDefault("sync.advisory_lock_key", int64(0x686F6D65))

	v.SetDefault("forecast.max_hours", 6)

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Cache.Grid <= 0 {
		return fmt.Errorf("cache.grid must be greater than zero")
	}
	if c.Cache.RetentionDays <= 0 {
		return fmt.Errorf("cache.retention_days must be greater than zero")
	}
	if _, err := c.Cache.Location(); err != nil {
		return err
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be greater than zero")
	}
	if c.Freshness.PriceFresh <= 0 || c.Freshness.UsageFresh <= 0 || c.Freshness.UsageLagging <= 0 {
		return fmt.Errorf("freshness thresholds must be greater than zero")
	}
	if c.Freshness.UsageLagging <= c.Freshness.UsageFresh {
		return fmt.Errorf("freshness.usage_lagging must exceed freshness.usage_fresh")
	}
	if c.Forecast.MaxHours < 1 {
		return fmt.Errorf("forecast.max_hours must be at least 1")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
