package service

import (
	"encoding/json"
	"fmt"

	"PriceKeeper/internal/query"
)

// FormatValue renders an evaluated value according to a template display hint.
func FormatValue(v any, display string) string {
	if f, ok := v.(float64); ok {
		switch display {
		case query.DisplayCurrency:
			return fmt.Sprintf("%.2f", f)
		case query.DisplayPercent:
			return fmt.Sprintf("%.2f%%", f)
		case query.DisplayRatio:
			return fmt.Sprintf("%.3f", f)
		default:
			return fmt.Sprintf("%g", f)
		}
	}
	if v == nil {
		return "n/a"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
