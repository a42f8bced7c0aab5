package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"PriceKeeper/internal/adjust"
	"PriceKeeper/internal/collector"
	"PriceKeeper/internal/database"
	"PriceKeeper/internal/date"
	"PriceKeeper/internal/model"
	"PriceKeeper/internal/quota"
	"PriceKeeper/internal/recorder"
	"PriceKeeper/internal/splits"
	"PriceKeeper/internal/store"
)

// fakeClock advances only when slept on.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store    *store.Store
	registry *splits.Registry
	fetcher  *collector.MockFetcher
	clock    *fakeClock
	rec      *recorder.SQLRecorder
	r        *Refresher
}

const interval = 12 * time.Second

func newFixture(t *testing.T, symbols ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Driver: database.DriverSQLite, DSN: filepath.Join(t.TempDir(), "refresh.db")})
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st, err := store.New(ctx, db)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	rec, err := recorder.NewSQLRecorder(ctx, db)
	if err != nil {
		t.Fatalf("NewSQLRecorder: %v", err)
	}
	for _, s := range symbols {
		if _, err := st.TrackSymbol(ctx, s, ""); err != nil {
			t.Fatalf("TrackSymbol: %v", err)
		}
	}

	clock := &fakeClock{now: time.Date(2024, 6, 3, 22, 0, 0, 0, time.UTC)}
	reg := splits.NewRegistry(st)
	f := &collector.MockFetcher{Price: 100, Today: date.MustParse("2024-05-31")}
	r := NewRefresher(st, reg, adjust.NewAdjuster(reg), f, NewThrottle(interval, clock), clock, rec)
	return &fixture{store: st, registry: reg, fetcher: f, clock: clock, rec: rec, r: r}
}

func TestPerformStartupRefresh_Idempotent(t *testing.T) {
	fx := newFixture(t, "AAPL", "MSFT")
	ctx := context.Background()

	first, err := fx.r.PerformStartupRefresh(ctx, model.TriggerStartup)
	if err != nil {
		t.Fatalf("PerformStartupRefresh: %v", err)
	}
	if first.Processed != 2 || first.DataRefreshed != 2 || first.SplitsChecked != 2 || first.UpstreamCalls != 4 {
		t.Errorf("first run = %+v", first)
	}
	if first.RowsInserted != 200 || len(first.Errors) != 0 {
		t.Errorf("first run rows = %d errors = %v", first.RowsInserted, first.Errors)
	}
	for _, size := range fx.fetcher.Sizes() {
		if size != model.FetchRecent {
			t.Errorf("startup fetched %s, want recent", size)
		}
	}

	fx.clock.advance(time.Hour) // still 2024-06-03 UTC
	second, err := fx.r.PerformStartupRefresh(ctx, model.TriggerStartup)
	if err != nil {
		t.Fatalf("PerformStartupRefresh: %v", err)
	}
	if second.UpstreamCalls != 0 || second.Skipped != 2 {
		t.Errorf("second run = %+v, want 0 calls and 2 skipped", second)
	}
	if fx.fetcher.TotalCalls() != 4 {
		t.Errorf("fetcher calls = %d, want 4", fx.fetcher.TotalCalls())
	}

	ts, err := fx.store.TrackedSymbol(ctx, "AAPL")
	if err != nil {
		t.Fatalf("TrackedSymbol: %v", err)
	}
	today := date.MustParse("2024-06-03")
	if ts.LastDataRefresh != today || ts.LastSplitCheck != today {
		t.Errorf("AAPL bookkeeping = %+v", ts)
	}

	runs, err := fx.rec.RecentRuns(ctx, 10)
	if err != nil || len(runs) != 2 {
		t.Errorf("recorded runs = %d, %v", len(runs), err)
	}
}

func TestPerformStartupRefresh_NextDay(t *testing.T) {
	fx := newFixture(t, "AAPL")
	ctx := context.Background()
	if _, err := fx.r.PerformStartupRefresh(ctx, model.TriggerStartup); err != nil {
		t.Fatalf("PerformStartupRefresh: %v", err)
	}
	fx.clock.advance(3 * time.Hour) // 01:00 UTC next day
	s, err := fx.r.PerformStartupRefresh(ctx, model.TriggerCron)
	if err != nil {
		t.Fatalf("PerformStartupRefresh: %v", err)
	}
	if s.UpstreamCalls != 2 || s.DataRefreshed != 1 {
		t.Errorf("next-day run = %+v", s)
	}
	// same bars again: nothing changes in the store
	if s.RowsInserted != 0 || s.RowsSkipped != 100 {
		t.Errorf("next-day rows = +%d =%d", s.RowsInserted, s.RowsSkipped)
	}
}

func TestPerformStartupRefresh_Throttles(t *testing.T) {
	fx := newFixture(t, "AAPL", "MSFT")
	if _, err := fx.r.PerformStartupRefresh(context.Background(), model.TriggerStartup); err != nil {
		t.Fatalf("PerformStartupRefresh: %v", err)
	}
	// four calls: the first is free, every later one waits a full interval
	if len(fx.clock.sleeps) != 3 {
		t.Fatalf("sleeps = %v, want 3", fx.clock.sleeps)
	}
	for _, d := range fx.clock.sleeps {
		if diff := d - interval; diff < -time.Millisecond || diff > time.Millisecond {
			t.Errorf("sleep = %v, want %v", d, interval)
		}
	}
}

func TestPerformStartupRefresh_IsolatesFailures(t *testing.T) {
	fx := newFixture(t, "AAPL", "BAD", "MSFT")
	fx.fetcher.DailyErr = map[string]error{"BAD": &collector.UpstreamError{Provider: "mock", Op: "daily", Symbol: "BAD", StatusCode: 503}}

	s, err := fx.r.PerformStartupRefresh(context.Background(), model.TriggerStartup)
	if err != nil {
		t.Fatalf("PerformStartupRefresh: %v", err)
	}
	if s.Processed != 3 || s.DataRefreshed != 2 || len(s.Errors) != 1 {
		t.Fatalf("run = %+v", s)
	}
	if e := s.Errors[0]; e.Symbol != "BAD" || e.Stage != StageData {
		t.Errorf("error = %+v", e)
	}

	ts, _ := fx.store.TrackedSymbol(context.Background(), "BAD")
	if !ts.LastDataRefresh.IsZero() {
		t.Errorf("failed symbol marked refreshed: %+v", ts)
	}
	if ts.LastSplitCheck.IsZero() {
		t.Error("split check of failed symbol should still be recorded")
	}
}

func TestPerformStartupRefresh_RateLimitStopsUpstream(t *testing.T) {
	fx := newFixture(t, "AAPL", "MSFT", "NVDA")
	fx.fetcher.SplitsErr = map[string]error{"MSFT": fmt.Errorf("mock SPLITS MSFT: %w", collector.ErrRateLimited)}

	s, err := fx.r.PerformStartupRefresh(context.Background(), model.TriggerStartup)
	if err != nil {
		t.Fatalf("PerformStartupRefresh: %v", err)
	}
	if !s.RateLimited {
		t.Error("run should be flagged rate limited")
	}
	// AAPL: 2 calls, MSFT: the rate-limited splits call, NVDA: none
	if s.UpstreamCalls != 3 || fx.fetcher.TotalCalls() != 3 {
		t.Errorf("calls = %d/%d, want 3", s.UpstreamCalls, fx.fetcher.TotalCalls())
	}
	if fx.fetcher.DailyCalls("MSFT") != 0 || fx.fetcher.SplitCalls("NVDA") != 0 {
		t.Error("no upstream calls expected after rate limiting")
	}
	if len(s.Errors) != 2 || s.Errors[1].Symbol != "NVDA" || s.Errors[1].Stage != StageSkipped {
		t.Errorf("errors = %+v", s.Errors)
	}
}

func TestRefreshSymbol(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	s, err := fx.r.RefreshSymbol(ctx, "tsla", false)
	if err != nil {
		t.Fatalf("RefreshSymbol: %v", err)
	}
	if s.UpstreamCalls != 2 || s.Trigger != model.TriggerManual {
		t.Errorf("first RefreshSymbol = %+v", s)
	}
	if _, err := fx.store.TrackedSymbol(ctx, "TSLA"); err != nil {
		t.Errorf("TSLA should be tracked: %v", err)
	}

	s, err = fx.r.RefreshSymbol(ctx, "TSLA", false)
	if err != nil {
		t.Fatalf("RefreshSymbol: %v", err)
	}
	if s.UpstreamCalls != 0 || fx.fetcher.DailyCalls("TSLA") != 1 {
		t.Errorf("second RefreshSymbol made %d calls", s.UpstreamCalls)
	}

	s, err = fx.r.RefreshSymbol(ctx, "TSLA", true)
	if err != nil {
		t.Fatalf("RefreshSymbol(full): %v", err)
	}
	sizes := fx.fetcher.Sizes()
	if s.UpstreamCalls != 1 || sizes[len(sizes)-1] != model.FetchFull {
		t.Errorf("full RefreshSymbol = %+v, sizes %v", s, sizes)
	}

	fx.fetcher.DailyErr = map[string]error{"AMD": collector.ErrRateLimited}
	if _, err := fx.r.RefreshSymbol(ctx, "AMD", false); !errors.Is(err, collector.ErrRateLimited) {
		t.Errorf("RefreshSymbol(AMD) err = %v, want ErrRateLimited", err)
	}
}

func TestRefresh_NewSplitReadjustsHistory(t *testing.T) {
	fx := newFixture(t, "X")
	ctx := context.Background()
	fx.fetcher.Daily = map[string][]model.RawPriceRecord{"X": {
		{Symbol: "X", Date: date.MustParse("2024-01-02"), Open: 1190, High: 1210, Low: 1180, Close: 1200, Volume: 1000},
		{Symbol: "X", Date: date.MustParse("2024-05-31"), Open: 1900, High: 1920, Low: 1880, Close: 1900, Volume: 500},
	}}

	if _, err := fx.r.PerformStartupRefresh(ctx, model.TriggerStartup); err != nil {
		t.Fatalf("PerformStartupRefresh: %v", err)
	}
	recs, _ := fx.store.Query(ctx, "X", store.Range{}, 0)
	if len(recs) != 2 || recs[1].Close != 1200 || recs[1].SplitAdjusted {
		t.Fatalf("stored before split = %+v", recs)
	}

	// next day the provider reports a 10:1 split effective 2024-06-04
	fx.clock.advance(24 * time.Hour)
	fx.fetcher.Splits = map[string][]model.SplitEvent{"X": {{Symbol: "X", EffectiveDate: date.MustParse("2024-06-04"), Ratio: 10}}}
	s, err := fx.r.PerformStartupRefresh(ctx, model.TriggerCron)
	if err != nil {
		t.Fatalf("PerformStartupRefresh: %v", err)
	}
	if s.SplitsAdded != 1 {
		t.Errorf("SplitsAdded = %d, want 1", s.SplitsAdded)
	}

	recs, _ = fx.store.Query(ctx, "X", store.Range{}, 0)
	for _, r := range recs {
		if !r.SplitAdjusted || r.AdjustmentFactor != 10 {
			t.Errorf("%s not readjusted: %+v", r.Date, r)
		}
	}
	if recs[1].Close != 120 || recs[1].Volume != 10000 {
		t.Errorf("2024-01-02 = %+v, want close 120 volume 10000", recs[1])
	}
}

// flakyLister fails the first failures reads, then delegates.
type flakyLister struct {
	next     adjust.SplitLister
	failures int
}

func (f *flakyLister) ListSplits(ctx context.Context, symbol string) ([]model.SplitEvent, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("registry unavailable")
	}
	return f.next.ListSplits(ctx, symbol)
}

func TestRefresh_RepairsHistoryAfterDegradedBackfill(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	if _, err := fx.registry.AddSplit(ctx, model.SplitEvent{Symbol: "X", EffectiveDate: date.MustParse("2024-05-01"), Ratio: 10}); err != nil {
		t.Fatalf("AddSplit: %v", err)
	}
	old := model.RawPriceRecord{Symbol: "X", Date: date.MustParse("2023-03-01"), Open: 980, High: 990, Low: 970, Close: 983, Volume: 100}
	recent := model.RawPriceRecord{Symbol: "X", Date: date.MustParse("2024-05-31"), Open: 100, High: 101, Low: 99, Close: 100, Volume: 5000}
	fx.fetcher.Daily = map[string][]model.RawPriceRecord{"X": {old, recent}}

	r := NewRefresher(fx.store, fx.registry, adjust.NewAdjuster(&flakyLister{next: fx.registry, failures: 1}),
		fx.fetcher, NewThrottle(0, fx.clock), fx.clock, fx.rec)

	if _, err := r.RefreshSymbol(ctx, "X", true); err == nil {
		t.Fatal("degraded full refresh should report an error")
	}
	recs, _ := fx.store.Query(ctx, "X", store.Range{}, 0)
	if len(recs) != 2 || recs[1].Close != 983 || recs[1].SplitAdjusted {
		t.Fatalf("after degraded backfill = %+v", recs)
	}

	// later runs only see the recent window
	fx.fetcher.Daily = map[string][]model.RawPriceRecord{"X": {recent}}
	s, err := r.RefreshSymbol(ctx, "X", false)
	if err != nil {
		t.Fatalf("RefreshSymbol: %v", err)
	}
	if s.DataRefreshed != 1 || s.RowsUpdated != 1 {
		t.Errorf("repair run = %+v", s)
	}

	recs, _ = fx.store.Query(ctx, "X", store.Range{}, 0)
	got := recs[1]
	if !got.SplitAdjusted || got.AdjustmentFactor != 10 || got.Close != 98.3 || got.Volume != 1000 {
		t.Errorf("2023-03-01 = %+v, want close 98.3 factor 10 volume 1000", got)
	}
	if recs[0].SplitAdjusted || recs[0].Close != 100 {
		t.Errorf("post-split bar changed: %+v", recs[0])
	}
}

func TestUpstream_CancelledWaitKeepsBudget(t *testing.T) {
	fx := newFixture(t, "AAPL")
	budget, _ := quota.NewManager("", 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	th := NewThrottle(interval, SystemClock{})
	th.Wait(context.Background()) // take the burst token so the next Wait must sleep
	r := NewRefresher(fx.store, fx.registry, adjust.NewAdjuster(fx.registry), fx.fetcher, th, SystemClock{}, fx.rec)
	r.SetBudget(budget)

	if err := r.upstream(ctx, &run{}); err == nil {
		t.Fatal("upstream should fail on a cancelled context")
	}
	if st := budget.GetState(); st.Used != 0 {
		t.Errorf("budget used = %d after a cancelled wait, want 0", st.Used)
	}
}

func TestThrottle_NoInterval(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	th := NewThrottle(0, clock)
	for i := 0; i < 5; i++ {
		if err := th.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("sleeps = %v, want none", clock.sleeps)
	}
}

func TestAddSplit_ReadjustsHistory(t *testing.T) {
	fx := newFixture(t, "X")
	ctx := context.Background()
	fx.fetcher.Daily = map[string][]model.RawPriceRecord{"X": {
		{Symbol: "X", Date: date.MustParse("2024-01-02"), Open: 800, High: 820, Low: 790, Close: 810, Volume: 100},
	}}
	if _, err := fx.r.PerformStartupRefresh(ctx, model.TriggerStartup); err != nil {
		t.Fatalf("PerformStartupRefresh: %v", err)
	}

	ev := model.SplitEvent{Symbol: "x", EffectiveDate: date.MustParse("2024-03-01"), Ratio: 10}
	added, err := fx.r.AddSplit(ctx, ev)
	if err != nil || !added {
		t.Fatalf("AddSplit = %v, %v", added, err)
	}
	if added, _ := fx.r.AddSplit(ctx, ev); added {
		t.Error("duplicate AddSplit reported added")
	}

	recs, _ := fx.store.Query(ctx, "X", store.Range{}, 0)
	if len(recs) != 1 || recs[0].Close != 81 || recs[0].AdjustmentFactor != 10 || recs[0].Volume != 1000 {
		t.Errorf("readjusted = %+v", recs)
	}
}

func TestPerformStartupRefresh_DailyBudget(t *testing.T) {
	fx := newFixture(t, "AAPL", "MSFT", "NVDA")
	budget, err := quota.NewManager("", 3)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	fx.r.SetBudget(budget)
	ctx := context.Background()

	s, err := fx.r.PerformStartupRefresh(ctx, model.TriggerStartup)
	if err != nil {
		t.Fatalf("PerformStartupRefresh: %v", err)
	}
	// AAPL: splits + data, MSFT: splits, then the budget is spent
	if s.UpstreamCalls != 3 || fx.fetcher.TotalCalls() != 3 || !s.RateLimited {
		t.Errorf("run = %+v, fetcher calls = %d", s, fx.fetcher.TotalCalls())
	}
	if len(s.Errors) != 2 || s.Errors[0].Symbol != "MSFT" || s.Errors[0].Stage != StageData ||
		s.Errors[1].Symbol != "NVDA" || s.Errors[1].Stage != StageSkipped {
		t.Errorf("errors = %+v", s.Errors)
	}

	fx.clock.advance(24 * time.Hour)
	s, err = fx.r.PerformStartupRefresh(ctx, model.TriggerStartup)
	if err != nil {
		t.Fatalf("PerformStartupRefresh next day: %v", err)
	}
	if s.UpstreamCalls != 3 || fx.fetcher.TotalCalls() != 6 {
		t.Errorf("next day run made %d calls, want a fresh budget of 3", s.UpstreamCalls)
	}
}
