package pricesvc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"PriceKeeper/internal/model"
)

const yahooBaseURL = "https://query1.finance.yahoo.com"

// YahooLookup reads current quotes from the Yahoo Finance chart API in-process.
// It is used when no price service is configured.
type YahooLookup struct {
	BaseURL   string
	Client    *http.Client
	SymbolMap map[string]string // maps internal symbol to Yahoo ticker
	now       func() time.Time
}

// NewYahooLookup creates a Yahoo Finance lookup with optional proxy support.
func NewYahooLookup(proxyURL string) *YahooLookup {
	return &YahooLookup{
		BaseURL: yahooBaseURL,
		Client:  newHTTPClient(proxyURL, 0),
		SymbolMap: map[string]string{
			"SPX500": "^GSPC",
			"SPX":    "^GSPC",
			"SP500":  "^GSPC",
		},
		now: time.Now,
	}
}

func (y *YahooLookup) Name() string { return "yahoo" }

func (y *YahooLookup) yahooSymbol(symbol string) string {
	if mapped, ok := y.SymbolMap[symbol]; ok {
		return mapped
	}
	return symbol
}

// yahooChart is the response structure from Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func at(vals []*float64, i int) float64 {
	if i >= len(vals) || vals[i] == nil {
		return 0
	}
	return *vals[i]
}

// GetPrice returns the latest non-empty daily bar of the last five sessions.
func (y *YahooLookup) GetPrice(ctx context.Context, symbol string) (Quote, error) {
	symbol = model.NormalizeSymbol(symbol)
	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=5d", y.BaseURL, url.PathEscape(y.yahooSymbol(symbol)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := y.Client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, fmt.Errorf("yahoo read body: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return Quote{}, fmt.Errorf("%s: %w", symbol, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("yahoo: status %d, body: %s", resp.StatusCode, string(body))
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return Quote{}, fmt.Errorf("yahoo decode: %w", err)
	}
	if chart.Chart.Error != nil {
		return Quote{}, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return Quote{}, fmt.Errorf("%s: %w", symbol, ErrNotFound)
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	for i := len(result.Timestamp) - 1; i >= 0; i-- {
		c := at(quote.Close, i)
		if c == 0 {
			continue // skip null bars (holidays etc.)
		}
		return Quote{
			Symbol:    symbol,
			Price:     c,
			Open:      at(quote.Open, i),
			High:      at(quote.High, i),
			Low:       at(quote.Low, i),
			Volume:    int64(at(quote.Volume, i)),
			Timestamp: time.Unix(result.Timestamp[i], 0).UTC().Format(time.RFC3339),
		}, nil
	}
	return Quote{}, fmt.Errorf("%s: %w", symbol, ErrNotFound)
}

// GetPrices looks symbols up concurrently; a failing symbol is reported in Batch.Errors.
func (y *YahooLookup) GetPrices(ctx context.Context, symbols []string) (Batch, error) {
	quotes := make([]Quote, len(symbols))
	errs := make([]error, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, s := range symbols {
		i, s := i, s
		g.Go(func() error {
			quotes[i], errs[i] = y.GetPrice(gctx, s)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Batch{}, err
	}

	b := Batch{Quotes: make(map[string]Quote)}
	for i, s := range symbols {
		sym := model.NormalizeSymbol(s)
		if errs[i] != nil {
			if b.Errors == nil {
				b.Errors = make(map[string]string)
			}
			b.Errors[sym] = errs[i].Error()
			continue
		}
		b.Quotes[sym] = quotes[i]
	}
	return b, nil
}

// Health reports ok without calling upstream; Yahoo has no health endpoint.
func (y *YahooLookup) Health(_ context.Context) (Health, error) {
	return Health{Status: "OK", Service: y.Name(), Timestamp: y.now().UTC().Format(time.RFC3339)}, nil
}
