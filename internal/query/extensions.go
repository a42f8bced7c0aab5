package query

import (
	"math"
	"reflect"

	jsonata "github.com/blues/jsonata-go"

	"PriceKeeper/internal/calculator"
)

// extensions are the numeric helpers available to every expression.
var extensions = map[string]jsonata.Extension{
	"sma": {Func: func(values any, period float64) (float64, error) {
		return calculator.SMA(toFloats(values), int(period))
	}},
	"volatility": {Func: func(values any) (float64, error) {
		return calculator.Volatility(toFloats(values))
	}},
	"pctReturn": {Func: func(values any) (float64, error) {
		return calculator.PctReturn(toFloats(values))
	}},
	"rsi": {Func: func(values any, period float64) (float64, error) {
		return calculator.RSI(toFloats(values), int(period))
	}},
	"pctChanges": {Func: func(values any) []any {
		changes := calculator.PercentChanges(toFloats(values))
		out := make([]any, len(changes))
		for i, c := range changes {
			out[i] = c
		}
		return out
	}},
	"rangePosition": {Func: func(values any, period float64) (float64, error) {
		return calculator.RangePosition(toFloats(values), int(period))
	}},
}

// toFloats flattens a JSONata value into numbers. Non-numeric entries become NaN
// so the calculator can skip them; a scalar is a one-element series.
func toFloats(v any) []float64 {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []float64{toFloat(rv)}
	}
	out := make([]float64, rv.Len())
	for i := range out {
		out[i] = toFloat(rv.Index(i))
	}
	return out
}

func toFloat(rv reflect.Value) float64 {
	for rv.IsValid() && (rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer) {
		if rv.IsNil() {
			return math.NaN()
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return math.NaN()
	}
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	default:
		return math.NaN()
	}
}
