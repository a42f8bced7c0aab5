// Package service is the entry point for callers of the price history core:
// analytics queries, historical series, refreshes and current quotes.
package service

import (
	"context"
	"fmt"
	"strings"

	"PriceKeeper/internal/date"
	"PriceKeeper/internal/model"
	"PriceKeeper/internal/notifier"
	"PriceKeeper/internal/pricesvc"
	"PriceKeeper/internal/query"
	"PriceKeeper/internal/quota"
	"PriceKeeper/internal/recorder"
	"PriceKeeper/internal/scheduler"
	"PriceKeeper/internal/splits"
	"PriceKeeper/internal/store"
)

// Service bundles the components behind the query and refresh surface.
type Service struct {
	Store     *store.Store
	Registry  *splits.Registry
	Engine    *query.Engine
	Refresher *scheduler.Refresher
	Prices    pricesvc.Lookup
	Recorder  recorder.Recorder
	Budget    *quota.Manager // nil when upstream calls are unlimited

	// DefaultLimit caps series loads when a caller passes limit 0; negative means no cap.
	DefaultLimit int

	closers []func() error
}

func (s *Service) limit(limit int) int {
	switch {
	case limit < 0:
		return 0
	case limit == 0:
		return s.DefaultLimit
	default:
		return limit
	}
}

// Evaluate runs one expression over the series of symbol.
func (s *Service) Evaluate(ctx context.Context, symbol, expr string, rng store.Range, limit int) (any, error) {
	return s.Engine.Evaluate(ctx, symbol, expr, rng, s.limit(limit))
}

// EvaluateMany runs named expressions over one load of the series of symbol.
func (s *Service) EvaluateMany(ctx context.Context, symbol string, named map[string]string, rng store.Range, limit int) (map[string]query.Result, error) {
	return s.Engine.EvaluateMany(ctx, symbol, named, rng, s.limit(limit))
}

// Templates returns the template library.
func (s *Service) Templates() map[string]map[string]query.Template {
	return query.Templates()
}

// HistoricalSeries returns the adjusted bars of symbol, newest first.
func (s *Service) HistoricalSeries(ctx context.Context, symbol string, rng store.Range, limit int) ([]model.AdjustedPriceRecord, error) {
	symbol = model.NormalizeSymbol(symbol)
	recs, err := s.Store.Query(ctx, symbol, rng, s.limit(limit))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, store.ErrNoData)
	}
	return recs, nil
}

// PerformStartupRefresh refreshes every stale tracked symbol.
func (s *Service) PerformStartupRefresh(ctx context.Context) (model.RunSummary, error) {
	return s.Refresher.PerformStartupRefresh(ctx, model.TriggerStartup)
}

// RefreshSymbol refreshes one symbol; full forces a whole-history fetch.
func (s *Service) RefreshSymbol(ctx context.Context, symbol string, full bool) (model.RunSummary, error) {
	return s.Refresher.RefreshSymbol(ctx, symbol, full)
}

// Track adds symbol to the daily refresh set.
func (s *Service) Track(ctx context.Context, symbol, name string) (bool, error) {
	return s.Store.TrackSymbol(ctx, symbol, name)
}

// Tracked lists tracked symbols.
func (s *Service) Tracked(ctx context.Context) ([]model.TrackedSymbol, error) {
	return s.Store.TrackedSymbols(ctx)
}

// TrackedReport lists tracked symbols with their stored row count and latest bar,
// plus the upstream calls left today.
func (s *Service) TrackedReport(ctx context.Context) (notifier.TrackedReport, error) {
	today := date.Today()
	report := notifier.TrackedReport{Today: today, BudgetLeft: -1}
	tracked, err := s.Tracked(ctx)
	if err != nil {
		return report, err
	}
	for _, ts := range tracked {
		st := notifier.TrackedStatus{TrackedSymbol: ts}
		if st.Rows, err = s.Store.Count(ctx, ts.Symbol); err != nil {
			return report, err
		}
		if st.Latest, _, err = s.Store.LatestDate(ctx, ts.Symbol); err != nil {
			return report, err
		}
		report.Symbols = append(report.Symbols, st)
	}
	if s.Budget != nil {
		if n, ok := s.Budget.Remaining(today); ok {
			report.BudgetLeft = n
		}
	}
	return report, nil
}

// Splits lists the known splits of symbol.
func (s *Service) Splits(ctx context.Context, symbol string) ([]model.SplitEvent, error) {
	return s.Registry.ListSplits(ctx, symbol)
}

// AddSplit registers a split by hand and rescales stored history.
func (s *Service) AddSplit(ctx context.Context, ev model.SplitEvent) (bool, error) {
	return s.Refresher.AddSplit(ctx, ev)
}

// CurrentPrice returns the latest quote of symbol from the price lookup.
func (s *Service) CurrentPrice(ctx context.Context, symbol string) (pricesvc.Quote, error) {
	return s.Prices.GetPrice(ctx, symbol)
}

// CurrentPrices returns quotes for several symbols; failures are listed per symbol.
func (s *Service) CurrentPrices(ctx context.Context, symbols []string) (pricesvc.Batch, error) {
	return s.Prices.GetPrices(ctx, symbols)
}

// Runs returns recent refresh runs, newest first.
func (s *Service) Runs(ctx context.Context, limit int) ([]model.RunSummary, error) {
	return s.Recorder.RecentRuns(ctx, limit)
}

// HandleCommand answers a Telegram chat command.
func (s *Service) HandleCommand(ctx context.Context, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return notifier.FormatHelp()
	}
	switch fields[0] {
	case "/refresh":
		summary, err := s.Refresher.PerformStartupRefresh(ctx, model.TriggerManual)
		if err != nil {
			return "❌ " + notifier.Escape(err.Error())
		}
		return notifier.FormatRunSummary(summary)
	case "/tracked":
		report, err := s.TrackedReport(ctx)
		if err != nil {
			return "❌ " + notifier.Escape(err.Error())
		}
		return notifier.FormatTracked(report)
	case "/price":
		if len(fields) < 2 {
			return "usage: /price SYMBOL"
		}
		q, err := s.CurrentPrice(ctx, fields[1])
		if err != nil {
			return "❌ " + notifier.Escape(err.Error())
		}
		return notifier.FormatQuote(q)
	case "/query":
		if len(fields) < 3 {
			return "usage: /query SYMBOL TEMPLATE"
		}
		tpl, ok := query.LookupTemplate(fields[2])
		if !ok {
			return fmt.Sprintf("unknown template %q", notifier.Escape(fields[2]))
		}
		v, err := s.Evaluate(ctx, fields[1], tpl.Expression, store.Range{}, 0)
		if err != nil {
			return "❌ " + notifier.Escape(err.Error())
		}
		return fmt.Sprintf("%s %s: %s", notifier.Escape(model.NormalizeSymbol(fields[1])), fields[2], notifier.Escape(FormatValue(v, tpl.Display)))
	default:
		return notifier.FormatHelp()
	}
}

// Close releases the database and other resources.
func (s *Service) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// PriceHealth reports whether the current-price lookup is reachable.
func (s *Service) PriceHealth(ctx context.Context) (pricesvc.Health, error) {
	return s.Prices.Health(ctx)
}
