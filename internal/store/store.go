// Package store persists adjusted daily bars, tracked symbols and split events.
// It performs no adjustment: callers hand it records that are already on the
// present-day price scale.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"PriceKeeper/internal/database"
	"PriceKeeper/internal/date"
	"PriceKeeper/internal/model"
)

var (
	// ErrNoData is returned when a symbol has no persisted rows.
	ErrNoData = errors.New("no price data")
	// ErrNotTracked is returned for symbols absent from tracked_symbols.
	ErrNotTracked = errors.New("symbol not tracked")
)

// Range bounds a query by date, both ends inclusive. Zero dates leave that side open.
type Range struct {
	Start date.Date
	End   date.Date
}

// UpsertResult counts what an Upsert did to each record.
type UpsertResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// Store is the SQL-backed persistence layer.
type Store struct {
	db  *database.DB
	mu  sync.Mutex // serializes writers
	now func() time.Time
}

// New creates a Store over db and creates missing tables.
func New(ctx context.Context, db *database.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS daily_prices (
			symbol            TEXT NOT NULL,
			date              TEXT NOT NULL,
			open              DOUBLE PRECISION NOT NULL,
			high              DOUBLE PRECISION NOT NULL,
			low               DOUBLE PRECISION NOT NULL,
			close             DOUBLE PRECISION NOT NULL,
			adjusted_close    DOUBLE PRECISION NOT NULL,
			volume            BIGINT NOT NULL,
			split_adjusted    BOOLEAN NOT NULL,
			adjustment_factor DOUBLE PRECISION NOT NULL,
			updated_at        BIGINT NOT NULL,
			PRIMARY KEY (symbol, date)
		)`,

		`CREATE TABLE IF NOT EXISTS tracked_symbols (
			symbol            TEXT PRIMARY KEY,
			name              TEXT NOT NULL DEFAULT '',
			last_data_refresh TEXT,
			last_split_check  TEXT,
			created_at        BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS split_events (
			symbol         TEXT NOT NULL,
			effective_date TEXT NOT NULL,
			ratio          DOUBLE PRECISION NOT NULL,
			description    TEXT NOT NULL DEFAULT '',
			created_at     BIGINT NOT NULL,
			PRIMARY KEY (symbol, effective_date)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", strings.TrimSpace(stmt)[:40], err)
		}
	}
	return nil
}

const priceColumns = `symbol, date, open, high, low, close, adjusted_close, volume, split_adjusted, adjustment_factor`

// Upsert writes records in a single transaction. A record equal to the stored row is
// skipped, a new (symbol, date) is inserted and anything else is updated in place.
func (s *Store) Upsert(ctx context.Context, records []model.AdjustedPriceRecord) (UpsertResult, error) {
	var res UpsertResult
	if len(records) == 0 {
		return res, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.loadExisting(ctx, tx, records)
	if err != nil {
		return res, err
	}

	insert, err := tx.PrepareContext(ctx, s.db.Rebind(`INSERT INTO daily_prices
		(`+priceColumns+`, updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`))
	if err != nil {
		return res, fmt.Errorf("prepare insert: %w", err)
	}
	defer insert.Close()

	update, err := tx.PrepareContext(ctx, s.db.Rebind(`UPDATE daily_prices SET
		open = ?, high = ?, low = ?, close = ?, adjusted_close = ?, volume = ?,
		split_adjusted = ?, adjustment_factor = ?, updated_at = ?
		WHERE symbol = ? AND date = ?`))
	if err != nil {
		return res, fmt.Errorf("prepare update: %w", err)
	}
	defer update.Close()

	now := s.now().Unix()
	for _, r := range records {
		k := key{r.Symbol, r.Date}
		old, found := existing[k]
		switch {
		case !found:
			if _, err := insert.ExecContext(ctx,
				r.Symbol, r.Date.String(), r.Open, r.High, r.Low, r.Close, r.AdjustedClose,
				r.Volume, r.SplitAdjusted, r.AdjustmentFactor, now,
			); err != nil {
				return UpsertResult{}, fmt.Errorf("insert %s %s: %w", r.Symbol, r.Date, err)
			}
			res.Inserted++
		case old == r:
			res.Skipped++
		default:
			if _, err := update.ExecContext(ctx,
				r.Open, r.High, r.Low, r.Close, r.AdjustedClose, r.Volume,
				r.SplitAdjusted, r.AdjustmentFactor, now, r.Symbol, r.Date.String(),
			); err != nil {
				return UpsertResult{}, fmt.Errorf("update %s %s: %w", r.Symbol, r.Date, err)
			}
			res.Updated++
		}
		existing[k] = r
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("commit upsert: %w", err)
	}
	return res, nil
}

type key struct {
	symbol string
	on     date.Date
}

// loadExisting reads the stored rows overlapping the batch, one range query per symbol.
func (s *Store) loadExisting(ctx context.Context, tx *sql.Tx, records []model.AdjustedPriceRecord) (map[key]model.AdjustedPriceRecord, error) {
	bounds := make(map[string]Range)
	for _, r := range records {
		b, ok := bounds[r.Symbol]
		if !ok {
			bounds[r.Symbol] = Range{Start: r.Date, End: r.Date}
			continue
		}
		if r.Date.Before(b.Start) {
			b.Start = r.Date
		}
		if r.Date.After(b.End) {
			b.End = r.Date
		}
		bounds[r.Symbol] = b
	}

	existing := make(map[key]model.AdjustedPriceRecord)
	for sym, b := range bounds {
		rows, err := tx.QueryContext(ctx, s.db.Rebind(`SELECT `+priceColumns+`
			FROM daily_prices WHERE symbol = ? AND date >= ? AND date <= ?`),
			sym, b.Start.String(), b.End.String())
		if err != nil {
			return nil, fmt.Errorf("load existing %s: %w", sym, err)
		}
		recs, err := scanPrices(rows)
		if err != nil {
			return nil, fmt.Errorf("load existing %s: %w", sym, err)
		}
		for _, r := range recs {
			existing[key{r.Symbol, r.Date}] = r
		}
	}
	return existing, nil
}

// Query returns the rows of symbol within rng, newest first, at most limit rows (limit <= 0: all).
func (s *Store) Query(ctx context.Context, symbol string, rng Range, limit int) ([]model.AdjustedPriceRecord, error) {
	q := `SELECT ` + priceColumns + ` FROM daily_prices WHERE symbol = ?`
	args := []any{model.NormalizeSymbol(symbol)}
	if !rng.Start.IsZero() {
		q += ` AND date >= ?`
		args = append(args, rng.Start.String())
	}
	if !rng.End.IsZero() {
		q += ` AND date <= ?`
		args = append(args, rng.End.String())
	}
	q += ` ORDER BY date DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query prices: %w", err)
	}
	return scanPrices(rows)
}

// Unadjusted returns the rows of symbol dated before before that are still on the raw
// scale (split_adjusted false), newest first.
func (s *Store) Unadjusted(ctx context.Context, symbol string, before date.Date) ([]model.AdjustedPriceRecord, error) {
	q := `SELECT ` + priceColumns + ` FROM daily_prices WHERE symbol = ? AND date < ? AND split_adjusted = ? ORDER BY date DESC`
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(q), model.NormalizeSymbol(symbol), before.String(), false)
	if err != nil {
		return nil, fmt.Errorf("query unadjusted: %w", err)
	}
	return scanPrices(rows)
}

// LatestDate returns the newest stored date of symbol; ok is false when there are no rows.
func (s *Store) LatestDate(ctx context.Context, symbol string) (on date.Date, ok bool, err error) {
	var v sql.NullString
	err = s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT MAX(date) FROM daily_prices WHERE symbol = ?`),
		model.NormalizeSymbol(symbol)).Scan(&v)
	if err != nil {
		return date.Date{}, false, fmt.Errorf("latest date: %w", err)
	}
	if !v.Valid || v.String == "" {
		return date.Date{}, false, nil
	}
	on, err = date.Parse(v.String)
	if err != nil {
		return date.Date{}, false, err
	}
	return on, true, nil
}

// Count returns the number of stored rows of symbol.
func (s *Store) Count(ctx context.Context, symbol string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT COUNT(*) FROM daily_prices WHERE symbol = ?`),
		model.NormalizeSymbol(symbol)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count prices: %w", err)
	}
	return n, nil
}

func scanPrices(rows *sql.Rows) ([]model.AdjustedPriceRecord, error) {
	defer rows.Close()
	var out []model.AdjustedPriceRecord
	for rows.Next() {
		var (
			r  model.AdjustedPriceRecord
			on string
		)
		if err := rows.Scan(&r.Symbol, &on, &r.Open, &r.High, &r.Low, &r.Close, &r.AdjustedClose,
			&r.Volume, &r.SplitAdjusted, &r.AdjustmentFactor); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		d, err := date.Parse(on)
		if err != nil {
			return nil, err
		}
		r.Date = d
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}
