package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// The postgres backend serves the warehouse deployment mode where the
// appliance shares its cache with a remote database. Schema mirrors the
// sqlite tables; decimals round-trip as text to avoid float drift.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS prices (
    site_id        TEXT NOT NULL,
    interval_start TIMESTAMPTZ NOT NULL,
    interval_end   TIMESTAMPTZ NOT NULL,
    channel_type   TEXT NOT NULL,
    per_kwh        TEXT NOT NULL,
    renewables     TEXT,
    descriptor     TEXT,
    updated_at     TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (site_id, interval_start, channel_type)
);

CREATE TABLE IF NOT EXISTS usage (
    site_id            TEXT NOT NULL,
    interval_start     TIMESTAMPTZ NOT NULL,
    interval_end       TIMESTAMPTZ NOT NULL,
    channel_type       TEXT NOT NULL,
    channel_identifier TEXT,
    kwh                TEXT NOT NULL,
    cost               TEXT,
    quality            TEXT,
    updated_at         TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (site_id, interval_start, channel_type)
);
`

const (
	pgUpsertPriceSQL = `INSERT INTO prices (
        site_id, interval_start, interval_end, channel_type,
        per_kwh, renewables, descriptor, updated_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    ON CONFLICT (site_id, interval_start, channel_type) DO UPDATE
    SET interval_end = EXCLUDED.interval_end,
        per_kwh      = EXCLUDED.per_kwh,
        renewables   = EXCLUDED.renewables,
        descriptor   = EXCLUDED.descriptor,
        updated_at   = EXCLUDED.updated_at;`

	pgUpsertUsageSQL = `INSERT INTO usage (
        site_id, interval_start, interval_end, channel_type,
        channel_identifier, kwh, cost, quality, updated_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    ON CONFLICT (site_id, interval_start, channel_type) DO UPDATE
    SET interval_end       = EXCLUDED.interval_end,
        channel_identifier = EXCLUDED.channel_identifier,
        kwh                = EXCLUDED.kwh,
        cost               = EXCLUDED.cost,
        quality            = EXCLUDED.quality,
        updated_at         = EXCLUDED.updated_at;`

	pgSelectPriceSQL = `SELECT site_id, interval_start, interval_end, channel_type,
        per_kwh, renewables, descriptor, updated_at FROM prices`

	pgSelectUsageSQL = `SELECT site_id, interval_start, interval_end, channel_type,
        channel_identifier, kwh, cost, quality, updated_at FROM usage`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PoolConfig tunes the pgx connection pool.
type PoolConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// PostgresStore is the pgx-backed interval store.
type PostgresStore struct {
	pool *pgxpool.Pool
	grid time.Duration
}

// OpenPostgres connects a pool and ensures the schema exists.
func OpenPostgres(ctx context.Context, cfg PoolConfig, grid time.Duration) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("storage: database dsn is required")
	}
	if grid <= 0 {
		return nil, errors.New("storage: grid must be positive")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}

	return &PostgresStore{pool: pool, grid: grid}, nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func. Lets overlapping sync jobs skip instead of double-running.
func (s *PostgresStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// UpsertPrices writes a batch of price rows in one transaction.
func (s *PostgresStore) UpsertPrices(ctx context.Context, records []PriceRecord) error {
	if len(records) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert prices: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rec := range records {
		_, err := tx.Exec(ctx, pgUpsertPriceSQL,
			rec.SiteID,
			rec.IntervalStart.UTC().Truncate(time.Second),
			rec.IntervalEnd.UTC().Truncate(time.Second),
			rec.ChannelType,
			rec.PerKwh.String(),
			encodeOptDecimal(rec.Renewables),
			nullIfEmpty(rec.Descriptor),
			rec.UpdatedAt.UTC().Truncate(time.Second),
		)
		if err != nil {
			return fmt.Errorf("upsert price %s: %w", rec.IntervalStart.Format(time.RFC3339), err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert prices: %w", err)
	}
	return nil
}

// UpsertUsage writes a batch of usage rows in one transaction.
func (s *PostgresStore) UpsertUsage(ctx context.Context, records []UsageRecord) error {
	if len(records) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert usage: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rec := range records {
		_, err := tx.Exec(ctx, pgUpsertUsageSQL,
			rec.SiteID,
			rec.IntervalStart.UTC().Truncate(time.Second),
			rec.IntervalEnd.UTC().Truncate(time.Second),
			rec.ChannelType,
			nullIfEmpty(rec.ChannelIdentifier),
			rec.Kwh.String(),
			encodeOptDecimal(rec.Cost),
			nullIfEmpty(rec.Quality),
			rec.UpdatedAt.UTC().Truncate(time.Second),
		)
		if err != nil {
			return fmt.Errorf("upsert usage %s: %w", rec.IntervalStart.Format(time.RFC3339), err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert usage: %w", err)
	}
	return nil
}

// PriceForInterval returns the canonical row for start, then the legacy
// +1s alias.
func (s *PostgresStore) PriceForInterval(ctx context.Context, site, channel string, start time.Time) (*PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	canonical := FloorToGrid(start, s.grid)
	for _, candidate := range []time.Time{canonical, legacyAlias(canonical)} {
		row := pool.QueryRow(ctx,
			pgSelectPriceSQL+` WHERE site_id = $1 AND interval_start = $2 AND channel_type = $3 LIMIT 1`,
			site, candidate, channel,
		)
		rec, err := scanPGPrice(row)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			rec.normalize(s.grid)
			return rec, nil
		}
	}
	return nil, nil
}

// UsageForInterval mirrors PriceForInterval for the usage series.
func (s *PostgresStore) UsageForInterval(ctx context.Context, site, channel string, start time.Time) (*UsageRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	canonical := FloorToGrid(start, s.grid)
	for _, candidate := range []time.Time{canonical, legacyAlias(canonical)} {
		row := pool.QueryRow(ctx,
			pgSelectUsageSQL+` WHERE site_id = $1 AND interval_start = $2 AND channel_type = $3 LIMIT 1`,
			site, candidate, channel,
		)
		rec, err := scanPGUsage(row)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			rec.normalize(s.grid)
			return rec, nil
		}
	}
	return nil, nil
}

// LatestPrice returns the most recent started price interval.
func (s *PostgresStore) LatestPrice(ctx context.Context, site, channel string, notAfter time.Time) (*PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	row := pool.QueryRow(ctx,
		pgSelectPriceSQL+` WHERE site_id = $1 AND channel_type = $2 AND interval_start <= $3
         ORDER BY interval_start DESC LIMIT 1`,
		site, channel, notAfter,
	)
	rec, err := scanPGPrice(row)
	if err != nil || rec == nil {
		return nil, err
	}
	rec.normalize(s.grid)
	return rec, nil
}

// LatestUsage returns the most recent started usage interval.
func (s *PostgresStore) LatestUsage(ctx context.Context, site, channel string, notAfter time.Time) (*UsageRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	row := pool.QueryRow(ctx,
		pgSelectUsageSQL+` WHERE site_id = $1 AND channel_type = $2 AND interval_start <= $3
         ORDER BY interval_start DESC LIMIT 1`,
		site, channel, notAfter,
	)
	rec, err := scanPGUsage(row)
	if err != nil || rec == nil {
		return nil, err
	}
	rec.normalize(s.grid)
	return rec, nil
}

// PricesBetween lists price rows with interval_start in [from, to).
func (s *PostgresStore) PricesBetween(ctx context.Context, site, channel string, from, to time.Time) ([]PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx,
		pgSelectPriceSQL+` WHERE site_id = $1 AND channel_type = $2
         AND interval_start >= $3 AND interval_start < $4
         ORDER BY interval_start ASC`,
		site, channel, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("list prices between: %w", err)
	}
	defer rows.Close()

	records := make([]PriceRecord, 0)
	for rows.Next() {
		rec, err := scanPGPrice(rows)
		if err != nil {
			return nil, err
		}
		rec.normalize(s.grid)
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// UsageBetween lists usage rows with interval_start in [from, to).
func (s *PostgresStore) UsageBetween(ctx context.Context, site, channel string, from, to time.Time) ([]UsageRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx,
		pgSelectUsageSQL+` WHERE site_id = $1 AND channel_type = $2
         AND interval_start >= $3 AND interval_start < $4
         ORDER BY interval_start ASC`,
		site, channel, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("list usage between: %w", err)
	}
	defer rows.Close()

	records := make([]UsageRecord, 0)
	for rows.Next() {
		rec, err := scanPGUsage(rows)
		if err != nil {
			return nil, err
		}
		rec.normalize(s.grid)
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Prune deletes rows older than the cutoff from both series.
func (s *PostgresStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var total int64
	for _, table := range []string{"prices", "usage"} {
		tag, err := pool.Exec(ctx, `DELETE FROM `+table+` WHERE interval_start < $1`, before)
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

func scanPGPrice(row rowScanner) (*PriceRecord, error) {
	var (
		rec        PriceRecord
		perKwhStr  string
		renewables sql.NullString
		descriptor sql.NullString
	)
	err := row.Scan(
		&rec.SiteID, &rec.IntervalStart, &rec.IntervalEnd, &rec.ChannelType,
		&perKwhStr, &renewables, &descriptor, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan price row: %w", err)
	}

	if rec.PerKwh, err = decimal.NewFromString(perKwhStr); err != nil {
		return nil, fmt.Errorf("parse per_kwh: %w", err)
	}
	if rec.Renewables, err = decodeOptDecimal(renewables); err != nil {
		return nil, fmt.Errorf("parse renewables: %w", err)
	}
	rec.Descriptor = descriptor.String
	rec.IntervalStart = rec.IntervalStart.UTC()
	rec.IntervalEnd = rec.IntervalEnd.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func scanPGUsage(row rowScanner) (*UsageRecord, error) {
	var (
		rec       UsageRecord
		channelID sql.NullString
		kwhStr    string
		cost      sql.NullString
		quality   sql.NullString
	)
	err := row.Scan(
		&rec.SiteID, &rec.IntervalStart, &rec.IntervalEnd, &rec.ChannelType,
		&channelID, &kwhStr, &cost, &quality, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan usage row: %w", err)
	}

	if rec.Kwh, err = decimal.NewFromString(kwhStr); err != nil {
		return nil, fmt.Errorf("parse kwh: %w", err)
	}
	if rec.Cost, err = decodeOptDecimal(cost); err != nil {
		return nil, fmt.Errorf("parse cost: %w", err)
	}
	rec.ChannelIdentifier = channelID.String
	rec.Quality = quality.String
	rec.IntervalStart = rec.IntervalStart.UTC()
	rec.IntervalEnd = rec.IntervalEnd.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

var (
	_ Store          = (*PostgresStore)(nil)
	_ AdvisoryLocker = (*PostgresStore)(nil)
)
