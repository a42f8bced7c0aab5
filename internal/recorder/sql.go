package recorder

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"PriceKeeper/internal/database"
	"PriceKeeper/internal/model"
)

// SQLRecorder persists run summaries next to the price data.
type SQLRecorder struct {
	db *database.DB
	mu sync.Mutex
}

// NewSQLRecorder creates the run tables if needed.
func NewSQLRecorder(ctx context.Context, db *database.DB) (*SQLRecorder, error) {
	r := &SQLRecorder{db: db}
	if err := r.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Printf("[INFO] run recorder ready (%s)", db.Driver)
	return r, nil
}

func (r *SQLRecorder) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS refresh_runs (
			run_id         TEXT PRIMARY KEY,
			trigger_name   TEXT NOT NULL,
			started_at     BIGINT NOT NULL,
			finished_at    BIGINT NOT NULL,
			processed      INTEGER NOT NULL,
			data_refreshed INTEGER NOT NULL,
			splits_checked INTEGER NOT NULL,
			splits_added   INTEGER NOT NULL,
			skipped        INTEGER NOT NULL,
			upstream_calls INTEGER NOT NULL,
			rows_inserted  INTEGER NOT NULL,
			rows_updated   INTEGER NOT NULL,
			rows_skipped   INTEGER NOT NULL,
			rate_limited   BOOLEAN NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_refresh_runs_started ON refresh_runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS refresh_run_errors (
			run_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			stage  TEXT NOT NULL,
			error  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_refresh_run_errors_run ON refresh_run_errors(run_id)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec: %w", err)
		}
	}
	return nil
}

// RecordRun stores run and its per-symbol errors in one transaction.
func (r *SQLRecorder) RecordRun(ctx context.Context, run model.RunSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record run: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, r.db.Rebind(`INSERT INTO refresh_runs (
		run_id, trigger_name, started_at, finished_at, processed, data_refreshed, splits_checked,
		splits_added, skipped, upstream_calls, rows_inserted, rows_updated, rows_skipped, rate_limited
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		run.RunID, run.Trigger, run.StartedAt.Unix(), run.FinishedAt.Unix(), run.Processed, run.DataRefreshed,
		run.SplitsChecked, run.SplitsAdded, run.Skipped, run.UpstreamCalls, run.RowsInserted, run.RowsUpdated,
		run.RowsSkipped, run.RateLimited,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.RunID, err)
	}
	for _, e := range run.Errors {
		if _, err := tx.ExecContext(ctx, r.db.Rebind(`INSERT INTO refresh_run_errors (run_id, symbol, stage, error)
			VALUES (?,?,?,?)`), run.RunID, e.Symbol, e.Stage, e.Error); err != nil {
			return fmt.Errorf("insert run error %s: %w", run.RunID, err)
		}
	}
	return tx.Commit()
}

// RecentRuns returns the newest runs first, at most limit (limit <= 0: 20).
func (r *SQLRecorder) RecentRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`SELECT run_id, trigger_name, started_at, finished_at,
		processed, data_refreshed, splits_checked, splits_added, skipped, upstream_calls,
		rows_inserted, rows_updated, rows_skipped, rate_limited
		FROM refresh_runs ORDER BY started_at DESC, run_id LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}

	var runs []model.RunSummary
	for rows.Next() {
		var (
			run             model.RunSummary
			started, finish int64
		)
		if err := rows.Scan(&run.RunID, &run.Trigger, &started, &finish, &run.Processed, &run.DataRefreshed,
			&run.SplitsChecked, &run.SplitsAdded, &run.Skipped, &run.UpstreamCalls,
			&run.RowsInserted, &run.RowsUpdated, &run.RowsSkipped, &run.RateLimited); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt = time.Unix(started, 0).UTC()
		run.FinishedAt = time.Unix(finish, 0).UTC()
		runs = append(runs, run)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	for i := range runs {
		errs, err := r.runErrors(ctx, runs[i].RunID)
		if err != nil {
			return nil, err
		}
		runs[i].Errors = errs
	}
	return runs, nil
}

func (r *SQLRecorder) runErrors(ctx context.Context, runID string) ([]model.SymbolError, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`SELECT symbol, stage, error FROM refresh_run_errors
		WHERE run_id = ? ORDER BY symbol`), runID)
	if err != nil {
		return nil, fmt.Errorf("query run errors: %w", err)
	}
	defer rows.Close()
	var out []model.SymbolError
	for rows.Next() {
		var e model.SymbolError
		if err := rows.Scan(&e.Symbol, &e.Stage, &e.Error); err != nil {
			return nil, fmt.Errorf("scan run error: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
