// Package adjust rescales raw daily bars to the present-day share count.
package adjust

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"PriceKeeper/internal/model"
	"PriceKeeper/internal/splits"
)

// PricePlaces is the number of decimals kept on adjusted prices.
const PricePlaces = 4

// SplitLister reads the split events of a symbol.
type SplitLister interface {
	ListSplits(ctx context.Context, symbol string) ([]model.SplitEvent, error)
}

// RegistryReadError reports that the splits of Symbol could not be read; the affected
// records were passed through unadjusted.
type RegistryReadError struct {
	Symbol  string
	Records int
	Err     error
}

func (e *RegistryReadError) Error() string {
	return fmt.Sprintf("read splits of %s (%d records left unadjusted): %v", e.Symbol, e.Records, e.Err)
}

func (e *RegistryReadError) Unwrap() error { return e.Err }

// Adjust maps raw to the present-day price scale given the split events of its symbol.
func Adjust(raw model.RawPriceRecord, events []model.SplitEvent) model.AdjustedPriceRecord {
	factor := splits.CumulativeFactor(events, raw.Date)
	if factor == 1 {
		return passThrough(raw)
	}
	closePrice := divide(raw.Close, factor)
	return model.AdjustedPriceRecord{
		Symbol:           raw.Symbol,
		Date:             raw.Date,
		Open:             divide(raw.Open, factor),
		High:             divide(raw.High, factor),
		Low:              divide(raw.Low, factor),
		Close:            closePrice,
		AdjustedClose:    closePrice,
		Volume:           multiply(raw.Volume, factor),
		SplitAdjusted:    true,
		AdjustmentFactor: factor,
	}
}

// Readjust recovers the raw bar behind a stored record and adjusts it again against events.
// Used after a new split is discovered for bars that were persisted before it was known.
func Readjust(stored model.AdjustedPriceRecord, events []model.SplitEvent) model.AdjustedPriceRecord {
	raw := model.RawPriceRecord{
		Symbol: stored.Symbol,
		Date:   stored.Date,
		Open:   stored.Open,
		High:   stored.High,
		Low:    stored.Low,
		Close:  stored.Close,
		Volume: stored.Volume,
	}
	if stored.SplitAdjusted && stored.AdjustmentFactor != 0 && stored.AdjustmentFactor != 1 {
		f := stored.AdjustmentFactor
		raw.Open *= f
		raw.High *= f
		raw.Low *= f
		raw.Close *= f
		raw.Volume = decimal.NewFromInt(stored.Volume).Div(decimal.NewFromFloat(f)).Round(0).IntPart()
	}
	return Adjust(raw, events)
}

func passThrough(raw model.RawPriceRecord) model.AdjustedPriceRecord {
	return model.AdjustedPriceRecord{
		Symbol:           raw.Symbol,
		Date:             raw.Date,
		Open:             raw.Open,
		High:             raw.High,
		Low:              raw.Low,
		Close:            raw.Close,
		AdjustedClose:    raw.Close,
		Volume:           raw.Volume,
		SplitAdjusted:    false,
		AdjustmentFactor: 1,
	}
}

func divide(v, factor float64) float64 {
	return decimal.NewFromFloat(v).Div(decimal.NewFromFloat(factor)).Round(PricePlaces).InexactFloat64()
}

func multiply(v int64, factor float64) int64 {
	return decimal.NewFromInt(v).Mul(decimal.NewFromFloat(factor)).Round(0).IntPart()
}

// Adjuster applies Adjust to batches, reading the registry once per symbol.
type Adjuster struct {
	splits SplitLister
}

// NewAdjuster creates an Adjuster reading split events from l.
func NewAdjuster(l SplitLister) *Adjuster {
	return &Adjuster{splits: l}
}

// AdjustBatch adjusts raws in order. A registry failure for a symbol never aborts the
// batch: its records are passed through with factor 1 and a *RegistryReadError is
// returned among the warnings.
func (a *Adjuster) AdjustBatch(ctx context.Context, raws []model.RawPriceRecord) ([]model.AdjustedPriceRecord, []error) {
	type snapshot struct {
		events []model.SplitEvent
		err    *RegistryReadError
	}
	snapshots := make(map[string]*snapshot)
	var order []string

	out := make([]model.AdjustedPriceRecord, 0, len(raws))
	for _, raw := range raws {
		snap, ok := snapshots[raw.Symbol]
		if !ok {
			snap = &snapshot{}
			events, err := a.splits.ListSplits(ctx, raw.Symbol)
			if err != nil {
				log.Printf("[WARN] splits of %s unavailable, storing unadjusted: %v", raw.Symbol, err)
				snap.err = &RegistryReadError{Symbol: raw.Symbol, Err: err}
			}
			snap.events = events
			snapshots[raw.Symbol] = snap
			order = append(order, raw.Symbol)
		}
		if snap.err != nil {
			snap.err.Records++
			out = append(out, passThrough(raw))
			continue
		}
		out = append(out, Adjust(raw, snap.events))
	}

	var warnings []error
	for _, sym := range order {
		if err := snapshots[sym].err; err != nil {
			warnings = append(warnings, err)
		}
	}
	return out, warnings
}
