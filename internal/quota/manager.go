// Package quota tracks how many upstream calls were spent per UTC day.
package quota

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"PriceKeeper/internal/date"
)

// ErrExhausted is returned by Spend once the day's calls are used up.
var ErrExhausted = errors.New("daily call budget exhausted")

// Manager guards the daily counter and persists it so a restart does not
// hand out the same day's calls twice.
type Manager struct {
	mu       sync.Mutex
	state    *State
	filePath string
	limit    int
}

// NewManager creates a Manager allowing limit calls per day (0 = unlimited, counted only).
// An empty filePath keeps the counter in memory.
func NewManager(filePath string, limit int) (*Manager, error) {
	state := &State{}
	if filePath != "" {
		var err error
		if state, err = LoadState(filePath); err != nil {
			return nil, fmt.Errorf("load quota state: %w", err)
		}
	}
	return &Manager{state: state, filePath: filePath, limit: limit}, nil
}

// GetState returns a copy of the current state.
func (m *Manager) GetState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.state
}

// Limit is the configured calls per day.
func (m *Manager) Limit() int { return m.limit }

// Spend takes one call from the budget of day.
func (m *Manager) Spend(day date.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollover(day)
	if m.limit > 0 && m.state.Used >= m.limit {
		return fmt.Errorf("%w: %d of %d used on %s", ErrExhausted, m.state.Used, m.limit, day)
	}
	m.state.Used++
	if err := m.save(); err != nil {
		log.Printf("[ERROR] failed to save quota state: %v", err)
	}
	return nil
}

// Remaining reports the calls left on day; ok is false when there is no limit.
func (m *Manager) Remaining(day date.Date) (n int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limit <= 0 {
		return 0, false
	}
	m.rollover(day)
	return max(m.limit-m.state.Used, 0), true
}

func (m *Manager) rollover(day date.Date) {
	if m.state.Day != day {
		m.state.Day = day
		m.state.Used = 0
	}
}

func (m *Manager) save() error {
	if m.filePath == "" {
		return nil
	}
	return SaveState(m.filePath, m.state)
}
