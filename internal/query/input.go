package query

import (
	"PriceKeeper/internal/model"
)

// Input is the document an expression is evaluated against:
// {symbol, count, start_date, end_date, data: [...]} with data newest first.
type Input struct {
	Symbol    string
	StartDate string
	EndDate   string
	Records   []model.AdjustedPriceRecord

	doc map[string]any
}

// NewInput builds the evaluation document for records, which must be ordered newest first.
func NewInput(symbol string, records []model.AdjustedPriceRecord) *Input {
	in := &Input{Symbol: symbol, Records: records}
	if len(records) > 0 {
		in.EndDate = records[0].Date.String()
		in.StartDate = records[len(records)-1].Date.String()
	}

	// Generic maps and float64 numbers keep the evaluator on its fast path.
	rows := make([]any, len(records))
	for i, r := range records {
		rows[i] = map[string]any{
			"date":              r.Date.String(),
			"open":              r.Open,
			"high":              r.High,
			"low":               r.Low,
			"close":             r.Close,
			"adjusted_close":    r.AdjustedClose,
			"volume":            float64(r.Volume),
			"split_adjusted":    r.SplitAdjusted,
			"adjustment_factor": r.AdjustmentFactor,
		}
	}
	in.doc = map[string]any{
		"symbol":     symbol,
		"count":      float64(len(records)),
		"start_date": in.StartDate,
		"end_date":   in.EndDate,
		"data":       rows,
	}
	return in
}

// Data returns the document handed to the evaluator. It must not be mutated.
func (in *Input) Data() map[string]any { return in.doc }
