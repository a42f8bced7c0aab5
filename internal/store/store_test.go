package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"PriceKeeper/internal/database"
	"PriceKeeper/internal/date"
	"PriceKeeper/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Driver: database.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "prices.db"),
	})
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := New(ctx, db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func bar(symbol, on string, close float64) model.AdjustedPriceRecord {
	return model.AdjustedPriceRecord{
		Symbol: symbol, Date: date.MustParse(on),
		Open: close, High: close + 1, Low: close - 1, Close: close, AdjustedClose: close,
		Volume: 1000, AdjustmentFactor: 1,
	}
}

func TestUpsert_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	batch := []model.AdjustedPriceRecord{
		bar("AAPL", "2024-01-02", 100),
		bar("AAPL", "2024-01-03", 105),
		bar("AAPL", "2024-01-04", 98),
	}

	res, err := s.Upsert(ctx, batch)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if res != (UpsertResult{Inserted: 3}) {
		t.Errorf("first Upsert = %+v, want 3 inserted", res)
	}

	res, err = s.Upsert(ctx, batch)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if res != (UpsertResult{Skipped: 3}) {
		t.Errorf("second Upsert = %+v, want 3 skipped", res)
	}

	n, err := s.Count(ctx, "AAPL")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestUpsert_UpdatesChangedRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Upsert(ctx, []model.AdjustedPriceRecord{bar("X", "2024-05-01", 1200)}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	changed := bar("X", "2024-05-01", 120)
	changed.SplitAdjusted = true
	changed.AdjustmentFactor = 10
	res, err := s.Upsert(ctx, []model.AdjustedPriceRecord{changed, bar("X", "2024-05-02", 121)})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if res != (UpsertResult{Inserted: 1, Updated: 1}) {
		t.Errorf("Upsert = %+v, want 1 inserted 1 updated", res)
	}

	got, err := s.Query(ctx, "X", Range{}, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Query returned %d rows, want 2", len(got))
	}
	if got[1] != changed {
		t.Errorf("stored row = %+v, want %+v", got[1], changed)
	}
}

func TestUpsert_DuplicateInBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	res, err := s.Upsert(ctx, []model.AdjustedPriceRecord{
		bar("MSFT", "2024-01-02", 370),
		bar("MSFT", "2024-01-02", 370),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if res != (UpsertResult{Inserted: 1, Skipped: 1}) {
		t.Errorf("Upsert = %+v, want 1 inserted 1 skipped", res)
	}
}

func TestQuery_OrderRangeLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	var batch []model.AdjustedPriceRecord
	for i, on := range []string{"2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05", "2024-01-08"} {
		batch = append(batch, bar("NVDA", on, float64(100+i)))
	}
	batch = append(batch, bar("AMD", "2024-01-05", 140))
	if _, err := s.Upsert(ctx, batch); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	tests := []struct {
		name  string
		rng   Range
		limit int
		want  []string
	}{
		{"all", Range{}, 0, []string{"2024-01-08", "2024-01-05", "2024-01-04", "2024-01-03", "2024-01-02"}},
		{"limit", Range{}, 2, []string{"2024-01-08", "2024-01-05"}},
		{"range", Range{Start: date.MustParse("2024-01-03"), End: date.MustParse("2024-01-05")}, 0,
			[]string{"2024-01-05", "2024-01-04", "2024-01-03"}},
		{"open start", Range{End: date.MustParse("2024-01-03")}, 0, []string{"2024-01-03", "2024-01-02"}},
		{"empty range", Range{Start: date.MustParse("2025-01-01")}, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Query(ctx, "nvda", tt.rng, tt.limit)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Query returned %d rows, want %d", len(got), len(tt.want))
			}
			for i, r := range got {
				if r.Date.String() != tt.want[i] {
					t.Errorf("row %d date = %s, want %s", i, r.Date, tt.want[i])
				}
				if r.Symbol != "NVDA" {
					t.Errorf("row %d symbol = %s", i, r.Symbol)
				}
			}
		})
	}
}

func TestLatestDate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.LatestDate(ctx, "AAPL"); err != nil || ok {
		t.Fatalf("LatestDate on empty store = ok %v err %v", ok, err)
	}
	if _, err := s.Upsert(ctx, []model.AdjustedPriceRecord{
		bar("AAPL", "2024-03-01", 180),
		bar("AAPL", "2024-03-04", 181),
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	on, ok, err := s.LatestDate(ctx, "AAPL")
	if err != nil || !ok {
		t.Fatalf("LatestDate = ok %v err %v", ok, err)
	}
	if on != date.MustParse("2024-03-04") {
		t.Errorf("LatestDate = %s, want 2024-03-04", on)
	}
}

func TestTrackedSymbols(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	added, err := s.TrackSymbol(ctx, " msft ", "Microsoft")
	if err != nil || !added {
		t.Fatalf("TrackSymbol = %v, %v", added, err)
	}
	added, err = s.TrackSymbol(ctx, "MSFT", "")
	if err != nil || added {
		t.Fatalf("second TrackSymbol = %v, %v; want false, nil", added, err)
	}
	if _, err := s.TrackSymbol(ctx, "AAPL", "Apple"); err != nil {
		t.Fatalf("TrackSymbol: %v", err)
	}

	got, err := s.TrackedSymbols(ctx)
	if err != nil {
		t.Fatalf("TrackedSymbols: %v", err)
	}
	if len(got) != 2 || got[0].Symbol != "AAPL" || got[1].Symbol != "MSFT" {
		t.Fatalf("TrackedSymbols = %+v", got)
	}
	if got[1].Name != "Microsoft" || !got[1].LastDataRefresh.IsZero() {
		t.Errorf("MSFT = %+v", got[1])
	}

	today := date.MustParse("2024-06-03")
	if err := s.MarkDataRefreshed(ctx, "MSFT", today); err != nil {
		t.Fatalf("MarkDataRefreshed: %v", err)
	}
	if err := s.MarkSplitsChecked(ctx, "MSFT", today); err != nil {
		t.Fatalf("MarkSplitsChecked: %v", err)
	}
	ts, err := s.TrackedSymbol(ctx, "msft")
	if err != nil {
		t.Fatalf("TrackedSymbol: %v", err)
	}
	if ts.LastDataRefresh != today || ts.LastSplitCheck != today {
		t.Errorf("TrackedSymbol = %+v", ts)
	}

	if _, err := s.TrackedSymbol(ctx, "ZZZ"); !errors.Is(err, ErrNotTracked) {
		t.Errorf("TrackedSymbol(ZZZ) err = %v, want ErrNotTracked", err)
	}
	if err := s.MarkDataRefreshed(ctx, "ZZZ", today); !errors.Is(err, ErrNotTracked) {
		t.Errorf("MarkDataRefreshed(ZZZ) err = %v, want ErrNotTracked", err)
	}
}

func TestSplits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	later := model.SplitEvent{Symbol: "NVDA", EffectiveDate: date.MustParse("2024-06-10"), Ratio: 10, Description: "10-for-1 split"}
	earlier := model.SplitEvent{Symbol: "NVDA", EffectiveDate: date.MustParse("2021-07-20"), Ratio: 4, Description: "4-for-1 split"}

	for _, ev := range []model.SplitEvent{later, earlier} {
		added, err := s.InsertSplit(ctx, ev)
		if err != nil || !added {
			t.Fatalf("InsertSplit(%s) = %v, %v", ev.EffectiveDate, added, err)
		}
	}
	dup := later
	dup.Ratio = 3
	added, err := s.InsertSplit(ctx, dup)
	if err != nil || added {
		t.Fatalf("duplicate InsertSplit = %v, %v; want false, nil", added, err)
	}

	got, err := s.ListSplits(ctx, "NVDA")
	if err != nil {
		t.Fatalf("ListSplits: %v", err)
	}
	if len(got) != 2 || got[0] != earlier || got[1] != later {
		t.Errorf("ListSplits = %+v", got)
	}
	if got, _ := s.ListSplits(ctx, "AAPL"); len(got) != 0 {
		t.Errorf("ListSplits(AAPL) = %+v, want empty", got)
	}
}

func TestQuery_NeverSeesHalfAppliedBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const days = 40
	batch := func(close float64) []model.AdjustedPriceRecord {
		out := make([]model.AdjustedPriceRecord, days)
		start := date.MustParse("2024-01-01")
		for i := range out {
			out[i] = bar("AAPL", start.AddDays(i).String(), close)
		}
		return out
	}
	if _, err := s.Upsert(ctx, batch(1)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				recs, err := s.Query(ctx, "AAPL", Range{}, 0)
				if err != nil {
					t.Errorf("Query: %v", err)
					return
				}
				if len(recs) != days {
					t.Errorf("read %d rows, want %d", len(recs), days)
					return
				}
				for _, rec := range recs[1:] {
					if rec.Close != recs[0].Close {
						t.Errorf("mixed batch: %s close %v, %s close %v", recs[0].Date, recs[0].Close, rec.Date, rec.Close)
						return
					}
				}
			}
		}()
	}

	for v := 2; v <= 20; v++ {
		res, err := s.Upsert(ctx, batch(float64(v)))
		if err != nil {
			t.Errorf("Upsert %d: %v", v, err)
			break
		}
		if res.Updated != days {
			t.Errorf("Upsert %d updated %d, want %d", v, res.Updated, days)
		}
	}
	close(done)
	wg.Wait()
}

func TestUnadjusted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	adjusted := bar("AAPL", "2024-01-03", 50)
	adjusted.SplitAdjusted, adjusted.AdjustmentFactor = true, 2
	if _, err := s.Upsert(ctx, []model.AdjustedPriceRecord{
		bar("AAPL", "2024-01-02", 100),
		adjusted,
		bar("AAPL", "2024-02-01", 60),
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	recs, err := s.Unadjusted(ctx, "aapl", date.MustParse("2024-02-01"))
	if err != nil {
		t.Fatalf("Unadjusted: %v", err)
	}
	if len(recs) != 1 || recs[0].Date != date.MustParse("2024-01-02") {
		t.Errorf("Unadjusted = %+v, want only 2024-01-02", recs)
	}
}
