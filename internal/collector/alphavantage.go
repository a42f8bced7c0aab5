package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"

	"PriceKeeper/internal/date"
	"PriceKeeper/internal/model"
)

// DefaultAlphaVantageURL is the Alpha Vantage query endpoint.
const DefaultAlphaVantageURL = "https://www.alphavantage.co/query"

// AlphaVantageFetcher implements Fetcher using the Alpha Vantage REST API.
type AlphaVantageFetcher struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// Option configures an AlphaVantageFetcher.
type Option func(*AlphaVantageFetcher)

// WithBaseURL overrides the query endpoint.
func WithBaseURL(u string) Option {
	return func(f *AlphaVantageFetcher) {
		if u != "" {
			f.BaseURL = u
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *AlphaVantageFetcher) { f.Client = c }
}

// WithProxy routes requests through proxyURL.
func WithProxy(proxyURL string) Option {
	return func(f *AlphaVantageFetcher) {
		if proxyURL == "" {
			return
		}
		if u, err := url.Parse(proxyURL); err == nil {
			f.Client.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *AlphaVantageFetcher) {
		if d > 0 {
			f.Client.Timeout = d
		}
	}
}

// NewAlphaVantageFetcher creates a new fetcher for apiKey.
func NewAlphaVantageFetcher(apiKey string, opts ...Option) *AlphaVantageFetcher {
	f := &AlphaVantageFetcher{
		BaseURL: DefaultAlphaVantageURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *AlphaVantageFetcher) Name() string { return "alphavantage" }

// FetchDaily calls TIME_SERIES_DAILY; FetchRecent maps to outputsize=compact (about 100 sessions).
func (f *AlphaVantageFetcher) FetchDaily(ctx context.Context, symbol string, size model.FetchSize) ([]model.RawPriceRecord, error) {
	symbol = model.NormalizeSymbol(symbol)
	outputSize := "compact"
	if size == model.FetchFull {
		outputSize = "full"
	}
	const op = "TIME_SERIES_DAILY"
	doc, err := f.call(ctx, op, symbol, url.Values{"outputsize": {outputSize}})
	if err != nil {
		return nil, err
	}

	series, ok := lookup(`$["Time Series (Daily)"]`, doc)
	if !ok {
		return nil, f.upstreamErr(op, symbol, "response has no daily time series")
	}
	days, ok := series.(map[string]any)
	if !ok {
		return nil, f.upstreamErr(op, symbol, "daily time series is not an object")
	}

	records := make([]model.RawPriceRecord, 0, len(days))
	for day, v := range days {
		bar, ok := v.(map[string]any)
		if !ok {
			continue
		}
		rec, err := parseDailyBar(symbol, day, bar)
		if err != nil {
			log.Printf("[WARN] %s: skipping %s bar %s: %v", f.Name(), symbol, day, err)
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Date.Before(records[j].Date) })
	return records, nil
}

// FetchSplits calls SPLITS. A symbol without splits yields an empty slice.
func (f *AlphaVantageFetcher) FetchSplits(ctx context.Context, symbol string) ([]model.SplitEvent, error) {
	symbol = model.NormalizeSymbol(symbol)
	const op = "SPLITS"
	doc, err := f.call(ctx, op, symbol, nil)
	if err != nil {
		return nil, err
	}

	data, ok := lookup(`$.data`, doc)
	if !ok {
		return nil, nil
	}
	items, ok := data.([]any)
	if !ok {
		return nil, f.upstreamErr(op, symbol, "split data is not an array")
	}

	events := make([]model.SplitEvent, 0, len(items))
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		on, err := date.Parse(str(obj["effective_date"]))
		if err != nil {
			log.Printf("[WARN] %s: skipping %s split: %v", f.Name(), symbol, err)
			continue
		}
		ratio, err := strconv.ParseFloat(str(obj["split_factor"]), 64)
		if err != nil || ratio <= 0 {
			log.Printf("[WARN] %s: skipping %s split %s: bad factor %v", f.Name(), symbol, on, obj["split_factor"])
			continue
		}
		events = append(events, model.SplitEvent{
			Symbol:        symbol,
			EffectiveDate: on,
			Ratio:         ratio,
			Description:   describeSplit(ratio),
		})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].EffectiveDate.Before(events[j].EffectiveDate) })
	return events, nil
}

// call performs one API request and classifies the response envelope.
func (f *AlphaVantageFetcher) call(ctx context.Context, function, symbol string, extra url.Values) (any, error) {
	q := url.Values{}
	q.Set("function", function)
	q.Set("symbol", symbol)
	q.Set("apikey", f.APIKey)
	for k, v := range extra {
		q[k] = v
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] %s: %s %s", f.Name(), function, symbol)
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Provider: f.Name(), Op: function, Symbol: symbol, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Provider: f.Name(), Op: function, Symbol: symbol, Err: err}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%s %s %s: %w", f.Name(), function, symbol, ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Provider: f.Name(), Op: function, Symbol: symbol,
			StatusCode: resp.StatusCode, Message: truncate(string(body), 200)}
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &UpstreamError{Provider: f.Name(), Op: function, Symbol: symbol, Err: fmt.Errorf("decode: %w", err)}
	}

	// Alpha Vantage reports quota and request errors with HTTP 200 and a single message key.
	if msg, ok := lookup(`$.Note`, doc); ok {
		return nil, fmt.Errorf("%s %s %s: %w: %s", f.Name(), function, symbol, ErrRateLimited, str(msg))
	}
	if msg, ok := lookup(`$.Information`, doc); ok {
		if isQuotaMessage(str(msg)) {
			return nil, fmt.Errorf("%s %s %s: %w: %s", f.Name(), function, symbol, ErrRateLimited, str(msg))
		}
		return nil, f.upstreamErr(function, symbol, str(msg))
	}
	if msg, ok := lookup(`$["Error Message"]`, doc); ok {
		return nil, f.upstreamErr(function, symbol, str(msg))
	}
	return doc, nil
}

func (f *AlphaVantageFetcher) upstreamErr(op, symbol, msg string) error {
	return &UpstreamError{Provider: f.Name(), Op: op, Symbol: symbol, Message: msg}
}

// lookup evaluates a JSONPath; a missing key is reported as ok=false.
func lookup(path string, doc any) (any, bool) {
	v, err := jsonpath.Get(path, doc)
	if err != nil || v == nil {
		return nil, false
	}
	return v, true
}

func parseDailyBar(symbol, day string, bar map[string]any) (model.RawPriceRecord, error) {
	on, err := date.Parse(day)
	if err != nil {
		return model.RawPriceRecord{}, err
	}
	rec := model.RawPriceRecord{Symbol: symbol, Date: on}
	fields := []struct {
		key string
		dst *float64
	}{
		{"1. open", &rec.Open},
		{"2. high", &rec.High},
		{"3. low", &rec.Low},
		{"4. close", &rec.Close},
	}
	for _, fl := range fields {
		v, err := strconv.ParseFloat(str(bar[fl.key]), 64)
		if err != nil {
			return model.RawPriceRecord{}, fmt.Errorf("field %q: %w", fl.key, err)
		}
		*fl.dst = v
	}
	vol, err := strconv.ParseFloat(str(bar["5. volume"]), 64)
	if err != nil {
		return model.RawPriceRecord{}, fmt.Errorf("field %q: %w", "5. volume", err)
	}
	rec.Volume = int64(vol)
	return rec, nil
}

func isQuotaMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "rate limit") || strings.Contains(m, "call frequency") ||
		strings.Contains(m, "requests per day")
}

func describeSplit(ratio float64) string {
	if ratio >= 1 {
		return strconv.FormatFloat(ratio, 'f', -1, 64) + "-for-1 split"
	}
	return "1-for-" + strconv.FormatFloat(1/ratio, 'f', -1, 64) + " reverse split"
}

func str(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
