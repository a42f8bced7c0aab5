package store

import (
	"context"
	"fmt"

	"PriceKeeper/internal/date"
	"PriceKeeper/internal/model"
)

// InsertSplit stores ev unless a split for the same symbol and effective date exists.
// It satisfies splits.Backend.
func (s *Store) InsertSplit(ctx context.Context, ev model.SplitEvent) (added bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO split_events
		(symbol, effective_date, ratio, description, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (symbol, effective_date) DO NOTHING`),
		model.NormalizeSymbol(ev.Symbol), ev.EffectiveDate.String(), ev.Ratio, ev.Description, s.now().Unix())
	if err != nil {
		return false, fmt.Errorf("insert split %s %s: %w", ev.Symbol, ev.EffectiveDate, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert split %s: %w", ev.Symbol, err)
	}
	return n > 0, nil
}

// ListSplits returns the splits of symbol ordered by effective date.
func (s *Store) ListSplits(ctx context.Context, symbol string) ([]model.SplitEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`SELECT symbol, effective_date, ratio, description
		FROM split_events WHERE symbol = ? ORDER BY effective_date`), model.NormalizeSymbol(symbol))
	if err != nil {
		return nil, fmt.Errorf("list splits: %w", err)
	}
	defer rows.Close()

	var out []model.SplitEvent
	for rows.Next() {
		var (
			ev model.SplitEvent
			on string
		)
		if err := rows.Scan(&ev.Symbol, &on, &ev.Ratio, &ev.Description); err != nil {
			return nil, fmt.Errorf("scan split: %w", err)
		}
		if ev.EffectiveDate, err = date.Parse(on); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list splits: %w", err)
	}
	return out, nil
}
