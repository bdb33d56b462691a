package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// Timestamps are stored as whole-second RFC3339 UTC strings so that string
// comparison and chronological comparison agree.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS prices (
    site_id        TEXT NOT NULL,
    interval_start TEXT NOT NULL,
    interval_end   TEXT NOT NULL,
    channel_type   TEXT NOT NULL,
    per_kwh        TEXT NOT NULL,
    renewables     TEXT,
    descriptor     TEXT,
    updated_at     TEXT NOT NULL,
    PRIMARY KEY (site_id, interval_start, channel_type)
);

CREATE TABLE IF NOT EXISTS usage (
    site_id            TEXT NOT NULL,
    interval_start     TEXT NOT NULL,
    interval_end       TEXT NOT NULL,
    channel_type       TEXT NOT NULL,
    channel_identifier TEXT,
    kwh                TEXT NOT NULL,
    cost               TEXT,
    quality            TEXT,
    updated_at         TEXT NOT NULL,
    PRIMARY KEY (site_id, interval_start, channel_type)
);
`

const (
	upsertPriceSQL = `INSERT INTO prices (
        site_id, interval_start, interval_end, channel_type,
        per_kwh, renewables, descriptor, updated_at
    ) VALUES (?,?,?,?,?,?,?,?)
    ON CONFLICT (site_id, interval_start, channel_type) DO UPDATE
    SET interval_end = excluded.interval_end,
        per_kwh      = excluded.per_kwh,
        renewables   = excluded.renewables,
        descriptor   = excluded.descriptor,
        updated_at   = excluded.updated_at;`

	upsertUsageSQL = `INSERT INTO usage (
        site_id, interval_start, interval_end, channel_type,
        channel_identifier, kwh, cost, quality, updated_at
    ) VALUES (?,?,?,?,?,?,?,?,?)
    ON CONFLICT (site_id, interval_start, channel_type) DO UPDATE
    SET interval_end       = excluded.interval_end,
        channel_identifier = excluded.channel_identifier,
        kwh                = excluded.kwh,
        cost               = excluded.cost,
        quality            = excluded.quality,
        updated_at         = excluded.updated_at;`

	selectPriceColumns = `site_id, interval_start, interval_end, channel_type,
        per_kwh, renewables, descriptor, updated_at`

	selectUsageColumns = `site_id, interval_start, interval_end, channel_type,
        channel_identifier, kwh, cost, quality, updated_at`
)

// SQLiteStore is the default appliance-local interval store.
type SQLiteStore struct {
	db   *sql.DB
	grid time.Duration
}

// OpenSQLite opens (and bootstraps, if needed) the local cache database.
func OpenSQLite(path string, grid time.Duration) (*SQLiteStore, error) {
	if grid <= 0 {
		return nil, errors.New("storage: grid must be positive")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db, grid: grid}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertPrices writes a batch of price rows in one transaction.
func (s *SQLiteStore) UpsertPrices(ctx context.Context, records []PriceRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert prices: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		_, err := tx.ExecContext(ctx, upsertPriceSQL,
			rec.SiteID,
			encodeTime(rec.IntervalStart),
			encodeTime(rec.IntervalEnd),
			rec.ChannelType,
			rec.PerKwh.String(),
			encodeOptDecimal(rec.Renewables),
			nullIfEmpty(rec.Descriptor),
			encodeTime(rec.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert price %s: %w", rec.IntervalStart.Format(time.RFC3339), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert prices: %w", err)
	}
	return nil
}

// UpsertUsage writes a batch of usage rows in one transaction.
func (s *SQLiteStore) UpsertUsage(ctx context.Context, records []UsageRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert usage: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		_, err := tx.ExecContext(ctx, upsertUsageSQL,
			rec.SiteID,
			encodeTime(rec.IntervalStart),
			encodeTime(rec.IntervalEnd),
			rec.ChannelType,
			nullIfEmpty(rec.ChannelIdentifier),
			rec.Kwh.String(),
			encodeOptDecimal(rec.Cost),
			nullIfEmpty(rec.Quality),
			encodeTime(rec.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert usage %s: %w", rec.IntervalStart.Format(time.RFC3339), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert usage: %w", err)
	}
	return nil
}

// PriceForInterval returns the price row at the canonical boundary for
// start, then the legacy +1s alias. Canonical always wins.
func (s *SQLiteStore) PriceForInterval(ctx context.Context, site, channel string, start time.Time) (*PriceRecord, error) {
	canonical := FloorToGrid(start, s.grid)
	for _, candidate := range []time.Time{canonical, legacyAlias(canonical)} {
		row := s.db.QueryRowContext(ctx,
			`SELECT `+selectPriceColumns+` FROM prices
             WHERE site_id = ? AND interval_start = ? AND channel_type = ? LIMIT 1`,
			site, encodeTime(candidate), channel,
		)
		rec, err := scanPrice(row)
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
func (s *SQLiteStore) UsageForInterval(ctx context.Context, site, channel string, start time.Time) (*UsageRecord, error) {
	canonical := FloorToGrid(start, s.grid)
	for _, candidate := range []time.Time{canonical, legacyAlias(canonical)} {
		row := s.db.QueryRowContext(ctx,
			`SELECT `+selectUsageColumns+` FROM usage
             WHERE site_id = ? AND interval_start = ? AND channel_type = ? LIMIT 1`,
			site, encodeTime(candidate), channel,
		)
		rec, err := scanUsage(row)
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

// LatestPrice returns the most recent started price interval. Future rows
// cached for forecasting never count as latest.
func (s *SQLiteStore) LatestPrice(ctx context.Context, site, channel string, notAfter time.Time) (*PriceRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectPriceColumns+` FROM prices
         WHERE site_id = ? AND channel_type = ? AND interval_start <= ?
         ORDER BY interval_start DESC LIMIT 1`,
		site, channel, encodeTime(notAfter),
	)
	rec, err := scanPrice(row)
	if err != nil || rec == nil {
		return nil, err
	}
	rec.normalize(s.grid)
	return rec, nil
}

// LatestUsage returns the most recent started usage interval.
func (s *SQLiteStore) LatestUsage(ctx context.Context, site, channel string, notAfter time.Time) (*UsageRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectUsageColumns+` FROM usage
         WHERE site_id = ? AND channel_type = ? AND interval_start <= ?
         ORDER BY interval_start DESC LIMIT 1`,
		site, channel, encodeTime(notAfter),
	)
	rec, err := scanUsage(row)
	if err != nil || rec == nil {
		return nil, err
	}
	rec.normalize(s.grid)
	return rec, nil
}

// PricesBetween lists price rows with interval_start in [from, to).
func (s *SQLiteStore) PricesBetween(ctx context.Context, site, channel string, from, to time.Time) ([]PriceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectPriceColumns+` FROM prices
         WHERE site_id = ? AND channel_type = ? AND interval_start >= ? AND interval_start < ?
         ORDER BY interval_start ASC`,
		site, channel, encodeTime(from), encodeTime(to),
	)
	if err != nil {
		return nil, fmt.Errorf("list prices between: %w", err)
	}
	defer rows.Close()

	records := make([]PriceRecord, 0)
	for rows.Next() {
		rec, err := scanPrice(rows)
		if err != nil {
			return nil, err
		}
		rec.normalize(s.grid)
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// UsageBetween lists usage rows with interval_start in [from, to).
func (s *SQLiteStore) UsageBetween(ctx context.Context, site, channel string, from, to time.Time) ([]UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectUsageColumns+` FROM usage
         WHERE site_id = ? AND channel_type = ? AND interval_start >= ? AND interval_start < ?
         ORDER BY interval_start ASC`,
		site, channel, encodeTime(from), encodeTime(to),
	)
	if err != nil {
		return nil, fmt.Errorf("list usage between: %w", err)
	}
	defer rows.Close()

	records := make([]UsageRecord, 0)
	for rows.Next() {
		rec, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		rec.normalize(s.grid)
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Prune deletes rows older than the cutoff from both series.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	cutoff := encodeTime(before)
	var total int64
	for _, table := range []string{"prices", "usage"} {
		res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE interval_start < ?`, cutoff)
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("prune %s rows affected: %w", table, err)
		}
		total += n
	}
	return total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrice(row rowScanner) (*PriceRecord, error) {
	var (
		rec        PriceRecord
		startStr   string
		endStr     string
		perKwhStr  string
		renewables sql.NullString
		descriptor sql.NullString
		updatedStr string
	)
	err := row.Scan(
		&rec.SiteID, &startStr, &endStr, &rec.ChannelType,
		&perKwhStr, &renewables, &descriptor, &updatedStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan price row: %w", err)
	}

	if rec.IntervalStart, err = decodeTime(startStr); err != nil {
		return nil, err
	}
	if rec.IntervalEnd, err = decodeTime(endStr); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = decodeTime(updatedStr); err != nil {
		return nil, err
	}
	if rec.PerKwh, err = decimal.NewFromString(perKwhStr); err != nil {
		return nil, fmt.Errorf("parse per_kwh: %w", err)
	}
	if rec.Renewables, err = decodeOptDecimal(renewables); err != nil {
		return nil, fmt.Errorf("parse renewables: %w", err)
	}
	rec.Descriptor = descriptor.String
	return &rec, nil
}

func scanUsage(row rowScanner) (*UsageRecord, error) {
	var (
		rec        UsageRecord
		startStr   string
		endStr     string
		channelID  sql.NullString
		kwhStr     string
		cost       sql.NullString
		quality    sql.NullString
		updatedStr string
	)
	err := row.Scan(
		&rec.SiteID, &startStr, &endStr, &rec.ChannelType,
		&channelID, &kwhStr, &cost, &quality, &updatedStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan usage row: %w", err)
	}

	if rec.IntervalStart, err = decodeTime(startStr); err != nil {
		return nil, err
	}
	if rec.IntervalEnd, err = decodeTime(endStr); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = decodeTime(updatedStr); err != nil {
		return nil, err
	}
	if rec.Kwh, err = decimal.NewFromString(kwhStr); err != nil {
		return nil, fmt.Errorf("parse kwh: %w", err)
	}
	if rec.Cost, err = decodeOptDecimal(cost); err != nil {
		return nil, fmt.Errorf("parse cost: %w", err)
	}
	rec.ChannelIdentifier = channelID.String
	rec.Quality = quality.String
	return &rec, nil
}

func encodeTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func decodeTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func encodeOptDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func decodeOptDecimal(v sql.NullString) (*decimal.Decimal, error) {
	if !v.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Store = (*SQLiteStore)(nil)
