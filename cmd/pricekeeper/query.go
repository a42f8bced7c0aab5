package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"

	"PriceKeeper/internal/date"
	"PriceKeeper/internal/query"
	"PriceKeeper/internal/service"
	"PriceKeeper/internal/store"
)

// rangeFlags are the series window flags shared by history and query.
type rangeFlags struct {
	start string
	end   string
	limit int
}

func (r *rangeFlags) register(f *flag.FlagSet) {
	f.StringVar(&r.start, "s", "", "start date YYYY-MM-DD (inclusive)")
	f.StringVar(&r.end, "e", "", "end date YYYY-MM-DD (inclusive)")
	f.IntVar(&r.limit, "n", 0, "max bars, newest first (0 = configured default, -1 = all)")
}

func (r *rangeFlags) parse() (store.Range, error) {
	var rng store.Range
	var err error
	if r.start != "" {
		if rng.Start, err = date.Parse(r.start); err != nil {
			return rng, fmt.Errorf("start: %w", err)
		}
	}
	if r.end != "" {
		if rng.End, err = date.Parse(r.end); err != nil {
			return rng, fmt.Errorf("end: %w", err)
		}
	}
	return rng, nil
}

type historyCmd struct {
	rangeFlags
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "print the split-adjusted daily bars of a symbol" }
func (*historyCmd) Usage() string {
	return `history [-s START] [-e END] [-n N] SYMBOL
`
}

func (c *historyCmd) SetFlags(f *flag.FlagSet) { c.register(f) }

func (c *historyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	rng, err := c.parse()
	if err != nil {
		log.Printf("[ERROR] %v", err)
		return subcommands.ExitUsageError
	}
	_, svc, ok := openService(ctx)
	if !ok {
		return subcommands.ExitFailure
	}
	defer svc.Close()

	recs, err := svc.HistoricalSeries(ctx, f.Arg(0), rng, c.limit)
	if err != nil {
		log.Printf("[ERROR] history: %v", err)
		return subcommands.ExitFailure
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "DATE\tOPEN\tHIGH\tLOW\tCLOSE\tVOLUME\tFACTOR\t")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%.4f\t%.4f\t%.4f\t%.4f\t%d\t%g\t\n", r.Date, r.Open, r.High, r.Low, r.Close, r.Volume, r.AdjustmentFactor)
	}
	w.Flush()
	return subcommands.ExitSuccess
}

type queryCmd struct {
	rangeFlags
	templates string
}

func (*queryCmd) Name() string     { return "query" }
func (*queryCmd) Synopsis() string { return "evaluate JSONata expressions over a symbol's series" }
func (*queryCmd) Usage() string {
	return `query [-s START] [-e END] [-n N] SYMBOL EXPRESSION
query [-s START] [-e END] [-n N] -t name[,name...] SYMBOL

  The expression sees {symbol, count, start_date, end_date, data} where data
  is newest first. Extensions: $sma $volatility $pctReturn $rsi $pctChanges
  $rangePosition. -t evaluates named templates in one load of the series.
`
}

func (c *queryCmd) SetFlags(f *flag.FlagSet) {
	c.register(f)
	f.StringVar(&c.templates, "t", "", "comma-separated template names")
}

func (c *queryCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if (c.templates == "" && f.NArg() != 2) || (c.templates != "" && f.NArg() != 1) {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	rng, err := c.parse()
	if err != nil {
		log.Printf("[ERROR] %v", err)
		return subcommands.ExitUsageError
	}
	_, svc, ok := openService(ctx)
	if !ok {
		return subcommands.ExitFailure
	}
	defer svc.Close()

	if c.templates == "" {
		v, err := svc.Evaluate(ctx, f.Arg(0), f.Arg(1), rng, c.limit)
		if err != nil {
			log.Printf("[ERROR] query: %v", err)
			return subcommands.ExitFailure
		}
		return printJSON(v)
	}

	named := make(map[string]string)
	display := make(map[string]string)
	for _, name := range strings.Split(c.templates, ",") {
		name = strings.TrimSpace(name)
		tpl, ok := query.LookupTemplate(name)
		if !ok {
			log.Printf("[ERROR] unknown template %q", name)
			return subcommands.ExitUsageError
		}
		named[name] = tpl.Expression
		display[name] = tpl.Display
	}
	results, err := svc.EvaluateMany(ctx, f.Arg(0), named, rng, c.limit)
	if err != nil {
		log.Printf("[ERROR] query: %v", err)
		return subcommands.ExitFailure
	}
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, name := range names {
		r := results[name]
		if r.Err != nil {
			fmt.Fprintf(w, "%s\terror: %v\n", name, r.Err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", name, service.FormatValue(r.Value, display[name]))
	}
	w.Flush()
	return subcommands.ExitSuccess
}

func printJSON(v any) subcommands.ExitStatus {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Printf("[ERROR] encode: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type templatesCmd struct{}

func (*templatesCmd) Name() string     { return "templates" }
func (*templatesCmd) Synopsis() string { return "list the query template library" }
func (*templatesCmd) Usage() string    { return "templates\n" }
func (*templatesCmd) SetFlags(*flag.FlagSet) {}

func (*templatesCmd) Execute(context.Context, *flag.FlagSet, ...interface{}) subcommands.ExitStatus {
	lib := query.Templates()
	categories := make([]string, 0, len(lib))
	for c := range lib {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, c := range categories {
		fmt.Fprintf(w, "[%s]\t\t\n", c)
		names := make([]string, 0, len(lib[c]))
		for n := range lib[c] {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			fmt.Fprintf(w, "  %s\t%s\t%s\n", n, lib[c][n].Display, lib[c][n].Expression)
		}
	}
	w.Flush()
	return subcommands.ExitSuccess
}

type priceCmd struct{}

func (*priceCmd) Name() string     { return "price" }
func (*priceCmd) Synopsis() string { return "look up current prices" }
func (*priceCmd) Usage() string {
	return `price SYMBOL...

  Uses price_service.base_url when set, otherwise Yahoo Finance directly.
`
}
func (*priceCmd) SetFlags(*flag.FlagSet) {}

func (c *priceCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	_, svc, ok := openService(ctx)
	if !ok {
		return subcommands.ExitFailure
	}
	defer svc.Close()

	if h, err := svc.PriceHealth(ctx); err != nil {
		log.Printf("[WARN] %s unreachable: %v", svc.Prices.Name(), err)
	} else {
		log.Printf("[INFO] %s: %s", svc.Prices.Name(), h.Status)
	}
	batch, err := svc.CurrentPrices(ctx, f.Args())
	if err != nil {
		log.Printf("[ERROR] price: %v", err)
		return subcommands.ExitFailure
	}
	status := printJSON(batch)
	if len(batch.Errors) > 0 {
		status = subcommands.ExitFailure
	}
	return status
}
