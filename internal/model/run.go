package model

import "time"

// Refresh triggers recorded on a RunSummary.
const (
	TriggerStartup = "startup"
	TriggerCron    = "cron"
	TriggerManual  = "manual"
)

// SymbolError is a per-symbol failure inside a refresh run.
type SymbolError struct {
	Symbol string `json:"symbol"`
	Stage  string `json:"stage"` // "splits", "data" or "skipped"
	Error  string `json:"error"`
}

// RunSummary reports one refresh run.
type RunSummary struct {
	RunID         string        `json:"run_id"`
	Trigger       string        `json:"trigger"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	Processed     int           `json:"processed"`
	DataRefreshed int           `json:"data_refreshed"`
	SplitsChecked int           `json:"splits_checked"`
	SplitsAdded   int           `json:"splits_added"`
	Skipped       int           `json:"skipped"`
	UpstreamCalls int           `json:"upstream_calls"`
	RowsInserted  int           `json:"rows_inserted"`
	RowsUpdated   int           `json:"rows_updated"`
	RowsSkipped   int           `json:"rows_skipped"`
	RateLimited   bool          `json:"rate_limited"`
	Errors        []SymbolError `json:"errors,omitempty"`
	Warnings      []string      `json:"warnings,omitempty"`
}

// Duration is the wall time of the run.
func (s RunSummary) Duration() time.Duration { return s.FinishedAt.Sub(s.StartedAt) }
