// Package query evaluates JSONata expressions over the adjusted series of one symbol.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"

	jsonata "github.com/blues/jsonata-go"
	"golang.org/x/sync/errgroup"

	"PriceKeeper/internal/model"
	"PriceKeeper/internal/store"
)

// DefaultConcurrency bounds EvaluateMany when no limit is configured.
const DefaultConcurrency = 4

// SeriesReader loads a symbol's adjusted series, newest first.
type SeriesReader interface {
	Query(ctx context.Context, symbol string, rng store.Range, limit int) ([]model.AdjustedPriceRecord, error)
}

// ExpressionError reports an expression that failed to compile or evaluate.
type ExpressionError struct {
	Expression string
	Err        error
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("expression %q: %v", e.Expression, e.Err)
}

func (e *ExpressionError) Unwrap() error { return e.Err }

// Result is the outcome of one named expression in EvaluateMany.
type Result struct {
	Value any
	Err   error
}

// MarshalJSON renders a failure as {"error": message} and a success as the bare value.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(map[string]string{"error": r.Err.Error()})
	}
	return json.Marshal(r.Value)
}

// Engine binds expressions to series loaded through a SeriesReader.
type Engine struct {
	series      SeriesReader
	concurrency int
}

// Option configures an Engine.
type Option func(*Engine)

// WithConcurrency bounds how many expressions EvaluateMany runs at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// NewEngine creates an Engine reading from series.
func NewEngine(series SeriesReader, opts ...Option) *Engine {
	e := &Engine{series: series, concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate loads the series of symbol and evaluates expr against it.
func (e *Engine) Evaluate(ctx context.Context, symbol, expr string, rng store.Range, limit int) (any, error) {
	input, err := e.load(ctx, symbol, rng, limit)
	if err != nil {
		return nil, err
	}
	return evaluate(ctx, expr, input)
}

// EvaluateMany loads the series once and evaluates every named expression against it.
// A failing expression only affects its own Result; the returned error is reserved for
// failures to load the series.
func (e *Engine) EvaluateMany(ctx context.Context, symbol string, named map[string]string, rng store.Range, limit int) (map[string]Result, error) {
	input, err := e.load(ctx, symbol, rng, limit)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(named))
	for name := range named {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]Result, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			v, err := evaluate(gctx, named[name], input)
			if err != nil {
				log.Printf("[WARN] query %s/%s failed: %v", input.Symbol, name, err)
			}
			results[i] = Result{Value: v, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]Result, len(names))
	for i, name := range names {
		out[name] = results[i]
	}
	return out, nil
}

func (e *Engine) load(ctx context.Context, symbol string, rng store.Range, limit int) (*Input, error) {
	symbol = model.NormalizeSymbol(symbol)
	records, err := e.series.Query(ctx, symbol, rng, limit)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", symbol, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, store.ErrNoData)
	}
	return NewInput(symbol, records), nil
}

func evaluate(ctx context.Context, expr string, input *Input) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	compiled, err := jsonata.Compile(expr)
	if err != nil {
		return nil, &ExpressionError{Expression: expr, Err: err}
	}
	if err := compiled.RegisterExts(extensions); err != nil {
		return nil, &ExpressionError{Expression: expr, Err: err}
	}
	v, err := compiled.Eval(input.Data())
	if errors.Is(err, jsonata.ErrUndefined) {
		return nil, nil
	}
	if err != nil {
		return nil, &ExpressionError{Expression: expr, Err: err}
	}
	return normalize(v), nil
}

// normalize turns every number in v into float64; some builtins such as
// $count return Go ints.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	default:
		return v
	}
}
