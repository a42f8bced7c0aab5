package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"PriceKeeper/internal/adjust"
	"PriceKeeper/internal/collector"
	"PriceKeeper/internal/date"
	"PriceKeeper/internal/model"
	"PriceKeeper/internal/quota"
	"PriceKeeper/internal/recorder"
	"PriceKeeper/internal/store"
)

// Stages reported in model.SymbolError.
const (
	StageSplits  = "splits"
	StageData    = "data"
	StageSkipped = "skipped"
)

// PriceStore is the part of the store the refresh flow writes through.
type PriceStore interface {
	TrackedSymbols(ctx context.Context) ([]model.TrackedSymbol, error)
	TrackedSymbol(ctx context.Context, symbol string) (model.TrackedSymbol, error)
	TrackSymbol(ctx context.Context, symbol, name string) (bool, error)
	MarkDataRefreshed(ctx context.Context, symbol string, on date.Date) error
	MarkSplitsChecked(ctx context.Context, symbol string, on date.Date) error
	Upsert(ctx context.Context, records []model.AdjustedPriceRecord) (store.UpsertResult, error)
	Query(ctx context.Context, symbol string, rng store.Range, limit int) ([]model.AdjustedPriceRecord, error)
	Unadjusted(ctx context.Context, symbol string, before date.Date) ([]model.AdjustedPriceRecord, error)
}

// SplitRegistry records split events.
type SplitRegistry interface {
	AddSplit(ctx context.Context, ev model.SplitEvent) (bool, error)
	ListSplits(ctx context.Context, symbol string) ([]model.SplitEvent, error)
}

// BatchAdjuster maps raw bars to the present-day scale.
type BatchAdjuster interface {
	AdjustBatch(ctx context.Context, raws []model.RawPriceRecord) ([]model.AdjustedPriceRecord, []error)
}

// Refresher decides once per UTC day per symbol whether upstream must be called,
// and writes what it fetches through the adjuster into the store.
type Refresher struct {
	store    PriceStore
	registry SplitRegistry
	adjuster BatchAdjuster
	fetcher  collector.Fetcher
	throttle *Throttle
	clock    Clock
	recorder recorder.Recorder
	budget   *quota.Manager

	mu sync.Mutex // one run at a time
}

// NewRefresher wires a Refresher. A nil recorder disables run history.
func NewRefresher(st PriceStore, reg SplitRegistry, adj BatchAdjuster, f collector.Fetcher, th *Throttle, clock Clock, rec recorder.Recorder) *Refresher {
	if clock == nil {
		clock = SystemClock{}
	}
	if th == nil {
		th = NewThrottle(0, clock)
	}
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	return &Refresher{
		store: st, registry: reg, adjuster: adj, fetcher: f,
		throttle: th, clock: clock, recorder: rec,
	}
}

// SetBudget caps upstream calls per UTC day. Once spent, a run behaves as if rate limited.
func (r *Refresher) SetBudget(b *quota.Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.budget = b
}

// run accumulates one RunSummary.
type run struct {
	summary     model.RunSummary
	rateLimited error
	lastErr     error
}

func (r *Refresher) newRun(trigger string) *run {
	return &run{summary: model.RunSummary{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		StartedAt: r.clock.Now(),
	}}
}

func (r *Refresher) finish(ctx context.Context, rn *run) model.RunSummary {
	rn.summary.FinishedAt = r.clock.Now()
	s := rn.summary
	log.Printf("[INFO] refresh run %s (%s): processed=%d data=%d splits=%d skipped=%d calls=%d errors=%d",
		s.RunID, s.Trigger, s.Processed, s.DataRefreshed, s.SplitsChecked, s.Skipped, s.UpstreamCalls, len(s.Errors))
	if err := r.recorder.RecordRun(ctx, s); err != nil {
		log.Printf("[ERROR] record run %s: %v", s.RunID, err)
	}
	return s
}

// PerformStartupRefresh refreshes every tracked symbol whose data or splits are stale.
// Symbols are processed sequentially; one symbol's failure never stops the others.
func (r *Refresher) PerformStartupRefresh(ctx context.Context, trigger string) (model.RunSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rn := r.newRun(trigger)
	tracked, err := r.store.TrackedSymbols(ctx)
	if err != nil {
		return r.finish(ctx, rn), fmt.Errorf("list tracked symbols: %w", err)
	}
	for _, ts := range tracked {
		if err := ctx.Err(); err != nil {
			return r.finish(ctx, rn), err
		}
		r.refresh(ctx, rn, ts, false)
	}
	return r.finish(ctx, rn), nil
}

// RefreshSymbol refreshes one symbol, tracking it first if needed. With full=false it
// is gated on freshness like the startup run; full=true always fetches the whole history.
// The returned error is the symbol's last failure, if any.
func (r *Refresher) RefreshSymbol(ctx context.Context, symbol string, full bool) (model.RunSummary, error) {
	symbol = model.NormalizeSymbol(symbol)
	if symbol == "" {
		return model.RunSummary{}, fmt.Errorf("refresh: empty symbol")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ts, err := r.store.TrackedSymbol(ctx, symbol)
	if errors.Is(err, store.ErrNotTracked) {
		if _, err := r.store.TrackSymbol(ctx, symbol, ""); err != nil {
			return model.RunSummary{}, err
		}
		log.Printf("[INFO] %s: now tracked", symbol)
		ts = model.TrackedSymbol{Symbol: symbol}
	} else if err != nil {
		return model.RunSummary{}, err
	}

	rn := r.newRun(model.TriggerManual)
	r.refresh(ctx, rn, ts, full)
	return r.finish(ctx, rn), rn.lastErr
}

// AddSplit records ev and rescales stored history that predates it.
func (r *Refresher) AddSplit(ctx context.Context, ev model.SplitEvent) (bool, error) {
	ev.Symbol = model.NormalizeSymbol(ev.Symbol)

	r.mu.Lock()
	defer r.mu.Unlock()

	added, err := r.registry.AddSplit(ctx, ev)
	if err != nil || !added {
		return added, err
	}
	log.Printf("[INFO] %s: split %s x%g registered", ev.Symbol, ev.EffectiveDate, ev.Ratio)
	if err := r.readjust(ctx, &run{}, ev.Symbol, []model.SplitEvent{ev}); err != nil {
		return true, fmt.Errorf("readjust %s: %w", ev.Symbol, err)
	}
	return true, nil
}

func (r *Refresher) refresh(ctx context.Context, rn *run, ts model.TrackedSymbol, full bool) {
	today := date.Of(r.clock.Now())
	rn.summary.Processed++

	splitsStale := ts.LastSplitCheck.Before(today)
	dataStale := full || ts.LastDataRefresh.Before(today)
	if !splitsStale && !dataStale {
		log.Printf("[INFO] %s: fresh for %s, skipped", ts.Symbol, today)
		rn.summary.Skipped++
		return
	}
	if rn.rateLimited != nil {
		r.fail(rn, ts.Symbol, StageSkipped, rn.rateLimited)
		return
	}

	if splitsStale {
		if err := r.checkSplits(ctx, rn, ts.Symbol, today); err != nil {
			r.fail(rn, ts.Symbol, StageSplits, err)
		}
	}
	if dataStale && rn.rateLimited == nil {
		size := model.FetchRecent
		if full {
			size = model.FetchFull
		}
		if err := r.refreshData(ctx, rn, ts.Symbol, size, today); err != nil {
			r.fail(rn, ts.Symbol, StageData, err)
		}
	}
}

func (r *Refresher) fail(rn *run, symbol, stage string, err error) {
	log.Printf("[ERROR] %s: %s refresh failed: %v", symbol, stage, err)
	rn.summary.Errors = append(rn.summary.Errors, model.SymbolError{Symbol: symbol, Stage: stage, Error: err.Error()})
	rn.lastErr = err
	limited := errors.Is(err, collector.ErrRateLimited) || errors.Is(err, quota.ErrExhausted)
	if limited && rn.rateLimited == nil {
		rn.rateLimited = err
		rn.summary.RateLimited = true
		log.Printf("[WARN] upstream rate limited, no further calls this run")
	}
}

// upstream spends one throttled call.
func (r *Refresher) upstream(ctx context.Context, rn *run) error {
	if err := r.throttle.Wait(ctx); err != nil {
		return err
	}
	if r.budget != nil {
		if err := r.budget.Spend(date.Of(r.clock.Now())); err != nil {
			return err
		}
	}
	rn.summary.UpstreamCalls++
	return nil
}

func (r *Refresher) checkSplits(ctx context.Context, rn *run, symbol string, today date.Date) error {
	if err := r.upstream(ctx, rn); err != nil {
		return err
	}
	events, err := r.fetcher.FetchSplits(ctx, symbol)
	if err != nil {
		return fmt.Errorf("fetch splits: %w", err)
	}

	var added []model.SplitEvent
	for _, ev := range events {
		ev.Symbol = symbol
		ok, err := r.registry.AddSplit(ctx, ev)
		if err != nil {
			return fmt.Errorf("add split %s: %w", ev.EffectiveDate, err)
		}
		if ok {
			log.Printf("[INFO] %s: new split %s x%g", symbol, ev.EffectiveDate, ev.Ratio)
			added = append(added, ev)
		}
	}
	if len(added) > 0 {
		if err := r.readjust(ctx, rn, symbol, added); err != nil {
			return err
		}
	}

	if err := r.store.MarkSplitsChecked(ctx, symbol, today); err != nil {
		return err
	}
	rn.summary.SplitsChecked++
	rn.summary.SplitsAdded += len(added)
	return nil
}

// readjust rescales stored bars older than the earliest newly added split.
func (r *Refresher) readjust(ctx context.Context, rn *run, symbol string, added []model.SplitEvent) error {
	earliest := added[0].EffectiveDate
	for _, ev := range added[1:] {
		if ev.EffectiveDate.Before(earliest) {
			earliest = ev.EffectiveDate
		}
	}
	stored, err := r.store.Query(ctx, symbol, store.Range{End: earliest.AddDays(-1)}, 0)
	if err != nil {
		return fmt.Errorf("load history for readjust: %w", err)
	}
	if len(stored) == 0 {
		return nil
	}
	events, err := r.registry.ListSplits(ctx, symbol)
	if err != nil {
		return &adjust.RegistryReadError{Symbol: symbol, Records: len(stored), Err: err}
	}

	out := make([]model.AdjustedPriceRecord, len(stored))
	for i, rec := range stored {
		out[i] = adjust.Readjust(rec, events)
	}
	res, err := r.store.Upsert(ctx, out)
	if err != nil {
		return fmt.Errorf("store readjusted history: %w", err)
	}
	log.Printf("[INFO] %s: readjusted %d stored bars before %s", symbol, res.Updated, earliest)
	rn.summary.RowsUpdated += res.Updated
	return nil
}

// repair readjusts stored bars left on the raw scale by an earlier degraded refresh.
// Only bars older than the latest known split can need it; the recent window was
// just rewritten adjusted.
func (r *Refresher) repair(ctx context.Context, rn *run, symbol string) error {
	events, err := r.registry.ListSplits(ctx, symbol)
	if err != nil {
		return fmt.Errorf("list splits for repair: %w", err)
	}
	if len(events) == 0 {
		return nil
	}
	latest := events[0].EffectiveDate
	for _, ev := range events[1:] {
		if ev.EffectiveDate.After(latest) {
			latest = ev.EffectiveDate
		}
	}
	stale, err := r.store.Unadjusted(ctx, symbol, latest)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	out := make([]model.AdjustedPriceRecord, len(stale))
	for i, rec := range stale {
		out[i] = adjust.Readjust(rec, events)
	}
	res, err := r.store.Upsert(ctx, out)
	if err != nil {
		return fmt.Errorf("store repaired history: %w", err)
	}
	if res.Updated > 0 {
		log.Printf("[INFO] %s: repaired %d unadjusted bars before %s", symbol, res.Updated, latest)
	}
	rn.summary.RowsUpdated += res.Updated
	return nil
}

func (r *Refresher) refreshData(ctx context.Context, rn *run, symbol string, size model.FetchSize, today date.Date) error {
	if err := r.upstream(ctx, rn); err != nil {
		return err
	}
	raws, err := r.fetcher.FetchDaily(ctx, symbol, size)
	if err != nil {
		return fmt.Errorf("fetch daily: %w", err)
	}

	adjusted, warnings := r.adjuster.AdjustBatch(ctx, raws)
	for _, w := range warnings {
		rn.summary.Warnings = append(rn.summary.Warnings, w.Error())
	}
	res, err := r.store.Upsert(ctx, adjusted)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	rn.summary.RowsInserted += res.Inserted
	rn.summary.RowsUpdated += res.Updated
	rn.summary.RowsSkipped += res.Skipped

	// Unadjusted rows were stored; leave the symbol stale so the next run fetches again.
	if len(warnings) > 0 {
		return fmt.Errorf("stored %d bars without split adjustment: %w", len(adjusted), warnings[0])
	}
	if err := r.repair(ctx, rn, symbol); err != nil {
		return err
	}
	if err := r.store.MarkDataRefreshed(ctx, symbol, today); err != nil {
		return err
	}
	log.Printf("[INFO] %s: %d bars (%s), inserted=%d updated=%d skipped=%d",
		symbol, len(raws), size, res.Inserted, res.Updated, res.Skipped)
	rn.summary.DataRefreshed++
	return nil
}
