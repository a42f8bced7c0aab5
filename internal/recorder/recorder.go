// Package recorder keeps the history of refresh runs for later inspection.
package recorder

import (
	"context"

	"PriceKeeper/internal/model"
)

// Recorder persists refresh run summaries.
type Recorder interface {
	RecordRun(ctx context.Context, run model.RunSummary) error
	RecentRuns(ctx context.Context, limit int) ([]model.RunSummary, error)
}

// NoopRecorder is a no-op implementation used when run history is disabled.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordRun(_ context.Context, _ model.RunSummary) error { return nil }
func (n *NoopRecorder) RecentRuns(_ context.Context, _ int) ([]model.RunSummary, error) {
	return nil, nil
}
