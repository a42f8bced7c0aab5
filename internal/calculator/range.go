package calculator

import "math"

// HighLow scans the period most recent values and returns the extremes.
// A period <= 0 scans the whole series.
func HighLow(values []float64, period int) (high, low float64, err error) {
	vals := present(values)
	if len(vals) == 0 {
		return 0, 0, ErrNoValues
	}
	if period > 0 && period < len(vals) {
		vals = vals[:period]
	}
	high = math.Inf(-1)
	low = math.Inf(1)
	for _, v := range vals {
		if v > high {
			high = v
		}
		if v < low {
			low = v
		}
	}
	return high, low, nil
}

// RangePosition returns where the most recent value sits within the high/low
// of the period most recent values (0.0~1.0).
func RangePosition(values []float64, period int) (float64, error) {
	high, low, err := HighLow(values, period)
	if err != nil {
		return 0, err
	}
	current := present(values)[0]
	if high == low {
		return 0.5, nil
	}
	return (current - low) / (high - low), nil
}
