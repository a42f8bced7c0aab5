package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"

	"PriceKeeper/internal/date"
	"PriceKeeper/internal/model"
)

type refreshCmd struct {
	full bool
}

func (*refreshCmd) Name() string     { return "refresh" }
func (*refreshCmd) Synopsis() string { return "refresh stale symbols, or the given symbols" }
func (*refreshCmd) Usage() string {
	return `refresh [-full] [SYMBOL...]

  Without symbols, refreshes every tracked symbol whose data or splits are
  stale. With symbols, refreshes those (tracking them first if needed).
`
}

func (c *refreshCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.full, "full", false, "fetch the whole history of the given symbols")
}

func (c *refreshCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, svc, ok := openService(ctx)
	if !ok {
		return subcommands.ExitFailure
	}
	defer svc.Close()
	if err := cfg.RequireProvider(); err != nil {
		log.Printf("[ERROR] %v", err)
		return subcommands.ExitFailure
	}

	if f.NArg() == 0 {
		summary, err := svc.PerformStartupRefresh(ctx)
		printSummary(summary)
		if err != nil {
			log.Printf("[ERROR] refresh: %v", err)
			return subcommands.ExitFailure
		}
		return subcommands.ExitSuccess
	}

	status := subcommands.ExitSuccess
	for _, sym := range f.Args() {
		summary, err := svc.RefreshSymbol(ctx, sym, c.full)
		printSummary(summary)
		if err != nil {
			log.Printf("[ERROR] refresh %s: %v", sym, err)
			status = subcommands.ExitFailure
		}
	}
	return status
}

func printSummary(s model.RunSummary) {
	fmt.Printf("run %s (%s): processed=%d refreshed=%d splits_checked=%d splits_added=%d skipped=%d calls=%d rows +%d ~%d =%d in %s\n",
		s.RunID, s.Trigger, s.Processed, s.DataRefreshed, s.SplitsChecked, s.SplitsAdded, s.Skipped,
		s.UpstreamCalls, s.RowsInserted, s.RowsUpdated, s.RowsSkipped, s.Duration().Round(time.Millisecond))
	if s.RateLimited {
		fmt.Println("  rate limited by the provider")
	}
	for _, e := range s.Errors {
		fmt.Printf("  %s [%s]: %s\n", e.Symbol, e.Stage, e.Error)
	}
	for _, w := range s.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
}

type trackCmd struct{}

func (*trackCmd) Name() string     { return "track" }
func (*trackCmd) Synopsis() string { return "track a symbol, or list tracked symbols" }
func (*trackCmd) Usage() string {
	return `track [SYMBOL [NAME]]

  Adds SYMBOL to the daily refresh set. Without arguments, lists tracked
  symbols and when they were last refreshed.
`
}
func (*trackCmd) SetFlags(*flag.FlagSet) {}

func (*trackCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	_, svc, ok := openService(ctx)
	if !ok {
		return subcommands.ExitFailure
	}
	defer svc.Close()

	if f.NArg() > 0 {
		name := ""
		if f.NArg() > 1 {
			name = f.Arg(1)
		}
		added, err := svc.Track(ctx, f.Arg(0), name)
		if err != nil {
			log.Printf("[ERROR] track: %v", err)
			return subcommands.ExitFailure
		}
		if !added {
			fmt.Printf("%s already tracked\n", model.NormalizeSymbol(f.Arg(0)))
			return subcommands.ExitSuccess
		}
		fmt.Printf("tracking %s\n", model.NormalizeSymbol(f.Arg(0)))
		return subcommands.ExitSuccess
	}

	report, err := svc.TrackedReport(ctx)
	if err != nil {
		log.Printf("[ERROR] tracked: %v", err)
		return subcommands.ExitFailure
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tNAME\tDATA\tSPLITS\tROWS\tLATEST")
	for _, ts := range report.Symbols {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", ts.Symbol, ts.Name,
			orNever(ts.LastDataRefresh), orNever(ts.LastSplitCheck), ts.Rows, orNever(ts.Latest))
	}
	w.Flush()
	if report.BudgetLeft >= 0 {
		fmt.Printf("\nupstream calls left today: %d\n", report.BudgetLeft)
	}
	return subcommands.ExitSuccess
}

func orNever(d date.Date) string {
	if d.IsZero() {
		return "never"
	}
	return d.String()
}

type splitCmd struct {
	description string
}

func (*splitCmd) Name() string     { return "split" }
func (*splitCmd) Synopsis() string { return "list or add stock splits of a symbol" }
func (*splitCmd) Usage() string {
	return `split SYMBOL [DATE RATIO]

  Lists the known splits of SYMBOL. With DATE (YYYY-MM-DD) and RATIO, records
  a split and rescales stored bars that predate it.
`
}

func (c *splitCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.description, "d", "", "description of the added split")
}

func (c *splitCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 && f.NArg() != 3 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	_, svc, ok := openService(ctx)
	if !ok {
		return subcommands.ExitFailure
	}
	defer svc.Close()

	if f.NArg() == 3 {
		on, err := date.Parse(f.Arg(1))
		if err != nil {
			log.Printf("[ERROR] %v", err)
			return subcommands.ExitUsageError
		}
		ratio, err := strconv.ParseFloat(f.Arg(2), 64)
		if err != nil {
			log.Printf("[ERROR] ratio: %v", err)
			return subcommands.ExitUsageError
		}
		ev := model.SplitEvent{Symbol: f.Arg(0), EffectiveDate: on, Ratio: ratio, Description: c.description}
		added, err := svc.AddSplit(ctx, ev)
		if err != nil {
			log.Printf("[ERROR] add split: %v", err)
			return subcommands.ExitFailure
		}
		if !added {
			fmt.Println("split already known")
		}
	}

	events, err := svc.Splits(ctx, f.Arg(0))
	if err != nil {
		log.Printf("[ERROR] splits: %v", err)
		return subcommands.ExitFailure
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tRATIO\tDESCRIPTION")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%g\t%s\n", ev.EffectiveDate, ev.Ratio, ev.Description)
	}
	w.Flush()
	return subcommands.ExitSuccess
}

type runsCmd struct {
	limit int
}

func (*runsCmd) Name() string     { return "runs" }
func (*runsCmd) Synopsis() string { return "show recent refresh runs" }
func (*runsCmd) Usage() string {
	return `runs [-n N]
`
}

func (c *runsCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.limit, "n", 10, "number of runs")
}

func (c *runsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	_, svc, ok := openService(ctx)
	if !ok {
		return subcommands.ExitFailure
	}
	defer svc.Close()

	runs, err := svc.Runs(ctx, c.limit)
	if err != nil {
		log.Printf("[ERROR] runs: %v", err)
		return subcommands.ExitFailure
	}
	for _, r := range runs {
		printSummary(r)
	}
	return subcommands.ExitSuccess
}
