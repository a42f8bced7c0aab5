// Package pricesvc looks up current quotes. It has no bearing on stored history:
// a failing lookup never affects refreshes or queries.
package pricesvc

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"
)

// ErrNotFound is returned when the source has no data for a symbol.
var ErrNotFound = errors.New("no price data available")

// Quote is the most recent bar of a symbol.
type Quote struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Volume    int64   `json:"volume"`
	Timestamp string  `json:"timestamp"`
}

// Batch is the outcome of a multi-symbol lookup. Symbols that failed are listed in Errors.
type Batch struct {
	Quotes map[string]Quote  `json:"data"`
	Errors map[string]string `json:"errors,omitempty"`
}

// Health reports whether the source is reachable.
type Health struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

// Lookup is the current-price contract.
type Lookup interface {
	GetPrice(ctx context.Context, symbol string) (Quote, error)
	GetPrices(ctx context.Context, symbols []string) (Batch, error)
	Health(ctx context.Context) (Health, error)
	Name() string
}

// newHTTPClient builds a client with optional proxy support.
func newHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}
