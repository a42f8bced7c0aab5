package pricesvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"PriceKeeper/internal/model"
)

// ServiceClient talks to the standalone price microservice.
type ServiceClient struct {
	BaseURL string
	Client  *http.Client
}

// NewServiceClient creates a client for the service at baseURL with optional proxy support.
func NewServiceClient(baseURL, proxyURL string) *ServiceClient {
	return &ServiceClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  newHTTPClient(proxyURL, 0),
	}
}

func (c *ServiceClient) Name() string { return "price-service" }

type errorBody struct {
	Error  string `json:"error"`
	Symbol string `json:"symbol"`
}

// GetPrice calls GET /price/{symbol}.
func (c *ServiceClient) GetPrice(ctx context.Context, symbol string) (Quote, error) {
	symbol = model.NormalizeSymbol(symbol)
	endpoint := fmt.Sprintf("%s/price/%s", c.BaseURL, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("fetch price %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, fmt.Errorf("read price %s: %w", symbol, err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Quote{}, fmt.Errorf("%s: %w", symbol, ErrNotFound)
	default:
		var eb errorBody
		if json.Unmarshal(body, &eb) == nil && eb.Error != "" {
			return Quote{}, fmt.Errorf("fetch price %s: status %d: %s", symbol, resp.StatusCode, eb.Error)
		}
		return Quote{}, fmt.Errorf("fetch price %s: status %d, body: %s", symbol, resp.StatusCode, string(body))
	}

	var q Quote
	if err := json.Unmarshal(body, &q); err != nil {
		return Quote{}, fmt.Errorf("decode price %s: %w", symbol, err)
	}
	if q.Symbol == "" {
		q.Symbol = symbol
	}
	return q, nil
}

// GetPrices calls POST /prices with {"symbols": [...]}.
func (c *ServiceClient) GetPrices(ctx context.Context, symbols []string) (Batch, error) {
	norm := make([]string, len(symbols))
	for i, s := range symbols {
		norm[i] = model.NormalizeSymbol(s)
	}
	payload, err := json.Marshal(map[string][]string{"symbols": norm})
	if err != nil {
		return Batch{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/prices", bytes.NewReader(payload))
	if err != nil {
		return Batch{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return Batch{}, fmt.Errorf("fetch prices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Batch{}, fmt.Errorf("fetch prices: status %d, body: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Success bool              `json:"success"`
		Count   int               `json:"count"`
		Data    map[string]Quote  `json:"data"`
		Errors  map[string]string `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Batch{}, fmt.Errorf("decode prices: %w", err)
	}
	if !result.Success {
		return Batch{}, fmt.Errorf("fetch prices: service reported failure")
	}
	b := Batch{Quotes: make(map[string]Quote, len(result.Data)), Errors: result.Errors}
	for sym, q := range result.Data {
		q.Symbol = sym
		b.Quotes[sym] = q
	}
	return b, nil
}

// Health calls GET /health.
func (c *ServiceClient) Health(ctx context.Context) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return Health{}, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return Health{}, fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Health{}, fmt.Errorf("health check: status %d", resp.StatusCode)
	}
	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return Health{}, fmt.Errorf("decode health: %w", err)
	}
	return h, nil
}
