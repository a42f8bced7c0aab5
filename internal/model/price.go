package model

import (
	"strings"

	"PriceKeeper/internal/date"
)

// RawPriceRecord is a daily bar as received from the upstream provider, before split adjustment.
type RawPriceRecord struct {
	Symbol string
	Date   date.Date
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// AdjustedPriceRecord is a daily bar rescaled to the present-day share count.
type AdjustedPriceRecord struct {
	Symbol           string    `json:"symbol"`
	Date             date.Date `json:"date"`
	Open             float64   `json:"open"`
	High             float64   `json:"high"`
	Low              float64   `json:"low"`
	Close            float64   `json:"close"`
	AdjustedClose    float64   `json:"adjusted_close"`
	Volume           int64     `json:"volume"`
	SplitAdjusted    bool      `json:"split_adjusted"`
	AdjustmentFactor float64   `json:"adjustment_factor"`
}

// SplitEvent is a corporate action. Ratio > 1 means a ratio-for-1 split.
type SplitEvent struct {
	Symbol        string    `json:"symbol" yaml:"symbol"`
	EffectiveDate date.Date `json:"effective_date" yaml:"effective_date"`
	Ratio         float64   `json:"ratio" yaml:"ratio"`
	Description   string    `json:"description,omitempty" yaml:"description"`
}

// TrackedSymbol carries the refresh bookkeeping of a symbol. A zero date means never.
type TrackedSymbol struct {
	Symbol          string    `json:"symbol"`
	Name            string    `json:"name"`
	LastDataRefresh date.Date `json:"last_data_refresh"`
	LastSplitCheck  date.Date `json:"last_split_check"`
}

// FetchSize selects how much history the upstream provider returns.
type FetchSize string

const (
	FetchRecent FetchSize = "recent"
	FetchFull   FetchSize = "full"
)

// NormalizeSymbol returns the canonical upper-case form of a ticker.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
