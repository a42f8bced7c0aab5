// Package calculator holds the numeric helpers behind the query extension
// functions. Every series is ordered newest first: index 0 is the most recent bar.
package calculator

import (
	"errors"
	"math"
)

// ErrNoValues is returned when a series has no usable values.
var ErrNoValues = errors.New("no values")

// SMA averages the period most recent values. NaN entries are skipped and a
// series shorter than period is averaged over whatever exists.
func SMA(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	sum, n := 0.0, 0
	for i := 0; i < len(values) && i < period; i++ {
		if math.IsNaN(values[i]) {
			continue
		}
		sum += values[i]
		n++
	}
	if n == 0 {
		return 0, ErrNoValues
	}
	return sum / float64(n), nil
}

// PctReturn is the percentage move from the oldest to the most recent value.
func PctReturn(values []float64) (float64, error) {
	vals := present(values)
	if len(vals) < 2 {
		return 0, errors.New("not enough data for return calculation")
	}
	recent, oldest := vals[0], vals[len(vals)-1]
	if oldest == 0 {
		return 0, errors.New("oldest value is zero")
	}
	return (recent - oldest) / oldest * 100, nil
}

// present drops NaN entries, keeping order.
func present(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}
