package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"PriceKeeper/internal/date"
	"PriceKeeper/internal/model"
)

// TrackSymbol registers symbol for daily refreshes. Tracking an already tracked
// symbol leaves its bookkeeping untouched and reports added=false.
func (s *Store) TrackSymbol(ctx context.Context, symbol, name string) (added bool, err error) {
	symbol = model.NormalizeSymbol(symbol)
	if symbol == "" {
		return false, fmt.Errorf("track: empty symbol")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO tracked_symbols (symbol, name, created_at)
		VALUES (?, ?, ?) ON CONFLICT (symbol) DO NOTHING`), symbol, name, s.now().Unix())
	if err != nil {
		return false, fmt.Errorf("track %s: %w", symbol, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("track %s: %w", symbol, err)
	}
	return n > 0, nil
}

// TrackedSymbols lists every tracked symbol in alphabetical order.
func (s *Store) TrackedSymbols(ctx context.Context) ([]model.TrackedSymbol, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, name, last_data_refresh, last_split_check
		FROM tracked_symbols ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("list tracked: %w", err)
	}
	defer rows.Close()

	var out []model.TrackedSymbol
	for rows.Next() {
		t, err := scanTracked(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tracked: %w", err)
	}
	return out, nil
}

// TrackedSymbol returns the bookkeeping of one symbol or ErrNotTracked.
func (s *Store) TrackedSymbol(ctx context.Context, symbol string) (model.TrackedSymbol, error) {
	symbol = model.NormalizeSymbol(symbol)
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT symbol, name, last_data_refresh, last_split_check
		FROM tracked_symbols WHERE symbol = ?`), symbol)
	t, err := scanTracked(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TrackedSymbol{}, fmt.Errorf("%s: %w", symbol, ErrNotTracked)
	}
	return t, err
}

// MarkDataRefreshed records on as the last successful data refresh of symbol.
func (s *Store) MarkDataRefreshed(ctx context.Context, symbol string, on date.Date) error {
	return s.markTracked(ctx, "last_data_refresh", symbol, on)
}

// MarkSplitsChecked records on as the last split check of symbol.
func (s *Store) MarkSplitsChecked(ctx context.Context, symbol string, on date.Date) error {
	return s.markTracked(ctx, "last_split_check", symbol, on)
}

// column is one of two constants above, never caller input.
func (s *Store) markTracked(ctx context.Context, column, symbol string, on date.Date) error {
	symbol = model.NormalizeSymbol(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE tracked_symbols SET `+column+` = ? WHERE symbol = ?`),
		on.String(), symbol)
	if err != nil {
		return fmt.Errorf("mark %s %s: %w", column, symbol, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", symbol, ErrNotTracked)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTracked(r rowScanner) (model.TrackedSymbol, error) {
	var (
		t             model.TrackedSymbol
		refresh, chck sql.NullString
	)
	if err := r.Scan(&t.Symbol, &t.Name, &refresh, &chck); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("scan tracked: %w", err)
	}
	var err error
	if t.LastDataRefresh, err = parseNullDate(refresh); err != nil {
		return t, err
	}
	if t.LastSplitCheck, err = parseNullDate(chck); err != nil {
		return t, err
	}
	return t, nil
}

func parseNullDate(v sql.NullString) (date.Date, error) {
	if !v.Valid || v.String == "" {
		return date.Date{}, nil
	}
	return date.Parse(v.String)
}
