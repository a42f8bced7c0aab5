package collector

import (
	"context"
	"errors"
	"fmt"

	"PriceKeeper/internal/model"
)

// ErrRateLimited is returned when the provider refuses a call because the quota is exhausted.
var ErrRateLimited = errors.New("upstream rate limited")

// UpstreamError is a non-quota provider failure: transport errors, bad statuses
// and error envelopes.
type UpstreamError struct {
	Provider   string
	Op         string
	Symbol     string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("%s %s %s", e.Provider, e.Op, e.Symbol)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Fetcher defines the interface for fetching raw market data.
// FetchDaily returns bars in ascending date order, before split adjustment.
type Fetcher interface {
	FetchDaily(ctx context.Context, symbol string, size model.FetchSize) ([]model.RawPriceRecord, error)
	FetchSplits(ctx context.Context, symbol string) ([]model.SplitEvent, error)
	Name() string
}
