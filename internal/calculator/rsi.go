package calculator

import (
	"errors"
)

// RSI computes the Wilder-smoothed RSI over the given period from newest-first closes.
// Requires at least period+1 closes. Returns 50.0 if data is insufficient.
func RSI(closes []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	vals := present(closes)
	if len(vals) < period+1 {
		return 50.0, nil // default when data insufficient
	}

	// Wilder smoothing runs oldest to newest.
	chrono := make([]float64, len(vals))
	for i, v := range vals {
		chrono[len(vals)-1-i] = v
	}

	// Initial average gain/loss over the first `period` changes
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := chrono[i] - chrono[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(chrono); i++ {
		change := chrono[i] - chrono[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100.0, nil
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs), nil
}
