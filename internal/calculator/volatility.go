package calculator

import (
	"errors"
	"math"
)

// PercentChanges returns the day-over-day percentage change of closes, newest first.
// The result has one entry fewer than the input; pairs whose prior close is zero are dropped.
func PercentChanges(closes []float64) []float64 {
	vals := present(closes)
	if len(vals) < 2 {
		return nil
	}
	out := make([]float64, 0, len(vals)-1)
	for i := 0; i < len(vals)-1; i++ {
		prev := vals[i+1]
		if prev == 0 {
			continue
		}
		out = append(out, (vals[i]-prev)/prev*100)
	}
	return out
}

// Volatility is the population standard deviation of daily percentage changes.
// It is not annualized.
func Volatility(closes []float64) (float64, error) {
	changes := PercentChanges(closes)
	if len(changes) == 0 {
		return 0, errors.New("not enough data for volatility calculation")
	}
	mean := 0.0
	for _, c := range changes {
		mean += c
	}
	mean /= float64(len(changes))

	variance := 0.0
	for _, c := range changes {
		d := c - mean
		variance += d * d
	}
	variance /= float64(len(changes))
	return math.Sqrt(variance), nil
}
