// Package splits keeps the table of corporate split events and computes the
// cumulative adjustment factor anchored to the present-day share count.
package splits

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"PriceKeeper/internal/date"
	"PriceKeeper/internal/model"
)

// ErrInvalidRatio is returned when a split ratio is not strictly positive.
var ErrInvalidRatio = errors.New("split ratio must be positive")

// Backend persists split events. Inserting an existing (symbol, effective_date) must report added=false, not an error.
type Backend interface {
	InsertSplit(ctx context.Context, ev model.SplitEvent) (added bool, err error)
	ListSplits(ctx context.Context, symbol string) ([]model.SplitEvent, error)
}

// Builtin is the static seed of well-known splits.
var Builtin = []model.SplitEvent{
	{Symbol: "AAPL", EffectiveDate: date.MustParse("2014-06-09"), Ratio: 7, Description: "7-for-1 split"},
	{Symbol: "AAPL", EffectiveDate: date.MustParse("2020-08-31"), Ratio: 4, Description: "4-for-1 split"},
	{Symbol: "NVDA", EffectiveDate: date.MustParse("2021-07-20"), Ratio: 4, Description: "4-for-1 split"},
	{Symbol: "NVDA", EffectiveDate: date.MustParse("2024-06-10"), Ratio: 10, Description: "10-for-1 split"},
	{Symbol: "TSLA", EffectiveDate: date.MustParse("2020-08-31"), Ratio: 5, Description: "5-for-1 split"},
	{Symbol: "TSLA", EffectiveDate: date.MustParse("2022-08-25"), Ratio: 3, Description: "3-for-1 split"},
	{Symbol: "GOOGL", EffectiveDate: date.MustParse("2022-07-18"), Ratio: 20, Description: "20-for-1 split"},
	{Symbol: "AMZN", EffectiveDate: date.MustParse("2022-06-06"), Ratio: 20, Description: "20-for-1 split"},
}

// Registry is the read/write entry point to split events.
type Registry struct {
	backend Backend
	seed    []model.SplitEvent
}

// NewRegistry creates a Registry over backend. The seed events are inserted by Seed.
func NewRegistry(backend Backend, seed ...model.SplitEvent) *Registry {
	return &Registry{backend: backend, seed: seed}
}

// Seed inserts the static events idempotently and returns how many were new.
func (r *Registry) Seed(ctx context.Context) (int, error) {
	added := 0
	for _, ev := range r.seed {
		ok, err := r.AddSplit(ctx, ev)
		if err != nil {
			return added, fmt.Errorf("seed %s %s: %w", ev.Symbol, ev.EffectiveDate, err)
		}
		if ok {
			added++
		}
	}
	return added, nil
}

// AddSplit records ev. A duplicate (symbol, effective_date) is a no-op and reports false.
func (r *Registry) AddSplit(ctx context.Context, ev model.SplitEvent) (bool, error) {
	if !(ev.Ratio > 0) {
		return false, fmt.Errorf("%s %s: %w", ev.Symbol, ev.EffectiveDate, ErrInvalidRatio)
	}
	if ev.EffectiveDate.IsZero() {
		return false, fmt.Errorf("%s: missing effective date", ev.Symbol)
	}
	ev.Symbol = model.NormalizeSymbol(ev.Symbol)
	return r.backend.InsertSplit(ctx, ev)
}

// ListSplits returns the events of symbol ascending by effective date. Every call re-reads the backend.
func (r *Registry) ListSplits(ctx context.Context, symbol string) ([]model.SplitEvent, error) {
	events, err := r.backend.ListSplits(ctx, model.NormalizeSymbol(symbol))
	if err != nil {
		return nil, err
	}
	slices.SortFunc(events, func(a, b model.SplitEvent) int {
		return a.EffectiveDate.Compare(b.EffectiveDate)
	})
	return events, nil
}

// CumulativeFactorAsOf returns the adjustment factor of a bar of symbol dated on.
func (r *Registry) CumulativeFactorAsOf(ctx context.Context, symbol string, on date.Date) (float64, error) {
	events, err := r.ListSplits(ctx, symbol)
	if err != nil {
		return 1, err
	}
	return CumulativeFactor(events, on), nil
}

// CumulativeFactor multiplies the ratios of every event effective strictly after on.
// A split effective on the bar's own date is already reflected in that bar.
func CumulativeFactor(events []model.SplitEvent, on date.Date) float64 {
	factor := 1.0
	for _, ev := range events {
		if ev.EffectiveDate.After(on) {
			factor *= ev.Ratio
		}
	}
	return factor
}
