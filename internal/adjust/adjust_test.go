package adjust

import (
	"context"
	"errors"
	"math"
	"testing"

	"PriceKeeper/internal/date"
	"PriceKeeper/internal/model"
)

var splitX = []model.SplitEvent{{Symbol: "X", EffectiveDate: date.MustParse("2024-06-07"), Ratio: 10}}

func raw(sym, on string, o, h, l, c float64, v int64) model.RawPriceRecord {
	return model.RawPriceRecord{Symbol: sym, Date: date.MustParse(on), Open: o, High: h, Low: l, Close: c, Volume: v}
}

func TestAdjust_BeforeSplit(t *testing.T) {
	got := Adjust(raw("X", "2024-01-01", 1190, 1210.5, 1185.25, 1200, 1_000_000), splitX)
	if got.Close != 120 || got.AdjustedClose != 120 {
		t.Errorf("close = %v / %v, want 120", got.Close, got.AdjustedClose)
	}
	if got.Open != 119 || got.High != 121.05 || got.Low != 118.525 {
		t.Errorf("ohl = %v %v %v", got.Open, got.High, got.Low)
	}
	if got.Volume != 10_000_000 {
		t.Errorf("volume = %d, want 10000000", got.Volume)
	}
	if !got.SplitAdjusted || got.AdjustmentFactor != 10 {
		t.Errorf("flags = %v %v", got.SplitAdjusted, got.AdjustmentFactor)
	}
}

func TestAdjust_AfterSplit(t *testing.T) {
	got := Adjust(raw("X", "2024-07-01", 188, 191, 187, 190, 5000), splitX)
	if got.Close != 190 || got.AdjustedClose != 190 {
		t.Errorf("close = %v / %v, want 190", got.Close, got.AdjustedClose)
	}
	if got.SplitAdjusted || got.AdjustmentFactor != 1 || got.Volume != 5000 {
		t.Errorf("unexpected adjustment: %+v", got)
	}
}

func TestAdjust_RoundingAndRoundTrip(t *testing.T) {
	events := []model.SplitEvent{
		{Symbol: "Y", EffectiveDate: date.MustParse("2015-01-01"), Ratio: 3},
		{Symbol: "Y", EffectiveDate: date.MustParse("2020-01-01"), Ratio: 7},
	}
	closes := []float64{123.4567, 99.99, 1.01, 5000.123, 0.5}
	for _, c := range closes {
		got := Adjust(raw("Y", "2010-05-05", c, c, c, c, 333), events)
		if got.AdjustmentFactor != 21 {
			t.Fatalf("factor = %v, want 21", got.AdjustmentFactor)
		}
		// 4 decimal places
		if scaled := got.Close * 1e4; math.Abs(scaled-math.Round(scaled)) > 1e-6 {
			t.Errorf("close %v has more than 4 decimals", got.Close)
		}
		if diff := math.Abs(got.AdjustedClose*got.AdjustmentFactor - c); diff > 0.00005*21+1e-9 {
			t.Errorf("round trip of %v off by %v", c, diff)
		}
		if got.Volume != 6993 {
			t.Errorf("volume = %d, want 6993", got.Volume)
		}
	}
}

func TestAdjust_VolumeRoundsToNearest(t *testing.T) {
	events := []model.SplitEvent{{Symbol: "Z", EffectiveDate: date.MustParse("2020-01-01"), Ratio: 1.5}}
	got := Adjust(raw("Z", "2019-01-01", 3, 3, 3, 3, 3), events)
	if got.Volume != 5 { // 4.5 rounds half away from zero
		t.Errorf("volume = %d, want 5", got.Volume)
	}
	if got.Close != 2 {
		t.Errorf("close = %v, want 2", got.Close)
	}
}

func TestReadjust_NewSplit(t *testing.T) {
	stored := Adjust(raw("X", "2023-01-03", 800, 820, 790, 810, 1000), nil)
	if stored.SplitAdjusted {
		t.Fatal("no split known yet")
	}
	got := Readjust(stored, splitX)
	if got.Close != 81 || got.Volume != 10000 || got.AdjustmentFactor != 10 {
		t.Errorf("readjusted = %+v", got)
	}

	// A second split on top of an already adjusted row compounds.
	more := append([]model.SplitEvent{{Symbol: "X", EffectiveDate: date.MustParse("2023-06-01"), Ratio: 2}}, splitX...)
	again := Readjust(got, more)
	if again.AdjustmentFactor != 20 || again.Close != 40.5 || again.Volume != 20000 {
		t.Errorf("compounded = %+v", again)
	}
}

type countingLister struct {
	calls  map[string]int
	events map[string][]model.SplitEvent
	fail   map[string]error
}

func (c *countingLister) ListSplits(_ context.Context, symbol string) ([]model.SplitEvent, error) {
	c.calls[symbol]++
	if err := c.fail[symbol]; err != nil {
		return nil, err
	}
	return c.events[symbol], nil
}

func TestAdjustBatch_ReadsRegistryOncePerSymbol(t *testing.T) {
	lister := &countingLister{
		calls:  map[string]int{},
		events: map[string][]model.SplitEvent{"X": splitX},
	}
	var raws []model.RawPriceRecord
	for d := date.MustParse("2024-05-01"); d.Before(date.MustParse("2024-08-01")); d = d.AddDays(1) {
		raws = append(raws, model.RawPriceRecord{Symbol: "X", Date: d, Open: 100, High: 100, Low: 100, Close: 100, Volume: 1})
		raws = append(raws, model.RawPriceRecord{Symbol: "W", Date: d, Open: 5, High: 5, Low: 5, Close: 5, Volume: 1})
	}

	out, warnings := NewAdjuster(lister).AdjustBatch(context.Background(), raws)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(out) != len(raws) {
		t.Fatalf("got %d records, want %d", len(out), len(raws))
	}
	if lister.calls["X"] != 1 || lister.calls["W"] != 1 {
		t.Errorf("registry calls = %v, want one per symbol", lister.calls)
	}
	for i, rec := range out {
		if rec.Symbol != raws[i].Symbol || rec.Date != raws[i].Date {
			t.Fatalf("output order changed at %d", i)
		}
		if rec.Symbol == "X" && rec.Date.Before(date.MustParse("2024-06-07")) && rec.Close != 10 {
			t.Errorf("%s close = %v, want 10", rec.Date, rec.Close)
		}
	}
}

func TestAdjustBatch_RegistryFailureDegrades(t *testing.T) {
	boom := errors.New("disk I/O error")
	lister := &countingLister{
		calls:  map[string]int{},
		events: map[string][]model.SplitEvent{"X": splitX},
		fail:   map[string]error{"Q": boom},
	}
	raws := []model.RawPriceRecord{
		raw("Q", "2020-01-02", 50, 51, 49, 50.5, 100),
		raw("X", "2024-01-02", 1000, 1000, 1000, 1000, 100),
		raw("Q", "2020-01-03", 51, 52, 50, 51.5, 100),
	}
	out, warnings := NewAdjuster(lister).AdjustBatch(context.Background(), raws)
	if len(out) != 3 {
		t.Fatalf("got %d records, want 3", len(out))
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want 1", warnings)
	}
	var rerr *RegistryReadError
	if !errors.As(warnings[0], &rerr) || rerr.Symbol != "Q" || rerr.Records != 2 {
		t.Errorf("warning = %#v", warnings[0])
	}
	if !errors.Is(warnings[0], boom) {
		t.Error("warning should wrap the registry error")
	}
	for _, rec := range []model.AdjustedPriceRecord{out[0], out[2]} {
		if rec.SplitAdjusted || rec.AdjustmentFactor != 1 || rec.AdjustedClose != rec.Close {
			t.Errorf("degraded record = %+v", rec)
		}
	}
	if out[1].Close != 100 {
		t.Errorf("healthy symbol close = %v, want 100", out[1].Close)
	}
}
