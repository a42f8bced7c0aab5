package collector

import (
	"context"
	"sync"

	"PriceKeeper/internal/date"
	"PriceKeeper/internal/model"
)

// MockFetcher returns controllable fixed data for development and testing.
// Symbols without configured Daily data get generated bars around Price.
type MockFetcher struct {
	Price     float64
	Daily     map[string][]model.RawPriceRecord
	Splits    map[string][]model.SplitEvent
	DailyErr  map[string]error
	SplitsErr map[string]error
	Today     date.Date

	mu         sync.Mutex
	dailyCalls map[string]int
	splitCalls map[string]int
	sizes      []model.FetchSize
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) FetchDaily(_ context.Context, symbol string, size model.FetchSize) ([]model.RawPriceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dailyCalls == nil {
		m.dailyCalls = make(map[string]int)
	}
	m.dailyCalls[symbol]++
	m.sizes = append(m.sizes, size)

	if err := m.DailyErr[symbol]; err != nil {
		return nil, err
	}
	if recs, ok := m.Daily[symbol]; ok {
		return recs, nil
	}
	count := 100
	if size == model.FetchFull {
		count = 1000
	}
	return generateMockBars(symbol, m.Price, m.Today, count), nil
}

func (m *MockFetcher) FetchSplits(_ context.Context, symbol string) ([]model.SplitEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.splitCalls == nil {
		m.splitCalls = make(map[string]int)
	}
	m.splitCalls[symbol]++

	if err := m.SplitsErr[symbol]; err != nil {
		return nil, err
	}
	return m.Splits[symbol], nil
}

// DailyCalls returns how many FetchDaily calls symbol received.
func (m *MockFetcher) DailyCalls(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyCalls[symbol]
}

// SplitCalls returns how many FetchSplits calls symbol received.
func (m *MockFetcher) SplitCalls(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.splitCalls[symbol]
}

// TotalCalls returns every call made so far.
func (m *MockFetcher) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.dailyCalls {
		n += c
	}
	for _, c := range m.splitCalls {
		n += c
	}
	return n
}

// Sizes returns the FetchSize of every FetchDaily call in order.
func (m *MockFetcher) Sizes() []model.FetchSize {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.FetchSize(nil), m.sizes...)
}

func generateMockBars(symbol string, basePrice float64, end date.Date, count int) []model.RawPriceRecord {
	if basePrice <= 0 {
		basePrice = 100
	}
	if end.IsZero() {
		end = date.Today()
	}
	bars := make([]model.RawPriceRecord, count)
	for i := 0; i < count; i++ {
		p := basePrice * (1 + float64(i-count/2)*0.001)
		bars[i] = model.RawPriceRecord{
			Symbol: symbol,
			Date:   end.AddDays(-(count - 1 - i)),
			Open:   p * 0.999,
			High:   p * 1.005,
			Low:    p * 0.995,
			Close:  p,
			Volume: 1000000,
		}
	}
	return bars
}
