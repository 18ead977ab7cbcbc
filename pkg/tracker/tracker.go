// Package tracker journals every ledger charge to SQLite so spend survives
// restarts and can be budgeted and reported on.
package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/statline-ai/statline/pkg/models"
)

// Tracker records and queries token usage.
type Tracker interface {
	// Record stores a usage record.
	Record(ctx context.Context, rec models.UsageRecord) error
	// Query returns usage records since a given time, newest first.
	Query(ctx context.Context, since time.Time) ([]models.UsageRecord, error)
	// Total returns total tokens consumed across all models since a given time.
	Total(ctx context.Context, since time.Time) (int64, error)
	// TotalByModel returns total tokens consumed by a model since a given time.
	TotalByModel(ctx context.Context, model string, since time.Time) (int64, error)
	// Summary returns usage aggregated per model, optionally filtered to one model.
	Summary(ctx context.Context, model string) ([]models.UsageSummary, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query_id TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL,
	cache_status TEXT NOT NULL,
	failed INTEGER NOT NULL DEFAULT 0,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	cost REAL NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_usage_model_time ON usage_records(model, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_time ON usage_records(created_at);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

// Record stores a usage record. A zero CreatedAt is stamped with the
// current time.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO usage_records (query_id, model, cache_status, failed, prompt_tokens, completion_tokens, total_tokens, cost, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.QueryID, rec.Model, string(rec.CacheStatus), rec.Failed,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.Cost, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Query returns usage records since a given time, newest first.
func (t *SQLiteTracker) Query(ctx context.Context, since time.Time) ([]models.UsageRecord, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, query_id, model, cache_status, failed, prompt_tokens, completion_tokens, total_tokens, cost, created_at
		 FROM usage_records WHERE created_at >= ? ORDER BY created_at DESC, id DESC`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var (
			r      models.UsageRecord
			status string
		)
		if err := rows.Scan(&r.ID, &r.QueryID, &r.Model, &status, &r.Failed, &r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &r.Cost, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		r.CacheStatus = models.CacheStatus(status)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Total returns total tokens consumed across all models since a given time.
func (t *SQLiteTracker) Total(ctx context.Context, since time.Time) (int64, error) {
	var total int64
	err := t.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_tokens), 0) FROM usage_records WHERE created_at >= ?`,
		since.UTC(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total usage: %w", err)
	}
	return total, nil
}

// TotalByModel returns total tokens consumed by a model since a given time.
func (t *SQLiteTracker) TotalByModel(ctx context.Context, model string, since time.Time) (int64, error) {
	var total int64
	err := t.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_tokens), 0) FROM usage_records WHERE model = ? AND created_at >= ?`,
		model, since.UTC(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total usage by model: %w", err)
	}
	return total, nil
}

// Summary returns aggregated usage grouped by model.
func (t *SQLiteTracker) Summary(ctx context.Context, model string) ([]models.UsageSummary, error) {
	query := `SELECT model, COUNT(*),
		SUM(CASE WHEN cache_status = 'hit' THEN 1 ELSE 0 END),
		SUM(failed), SUM(prompt_tokens), SUM(completion_tokens), SUM(total_tokens), SUM(cost)
		FROM usage_records`
	var args []any
	if model != "" {
		query += ` WHERE model = ?`
		args = append(args, model)
	}
	query += ` GROUP BY model ORDER BY model`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.UsageSummary
	for rows.Next() {
		var s models.UsageSummary
		if err := rows.Scan(&s.Model, &s.RequestCount, &s.CacheHits, &s.Failures, &s.TotalPrompt, &s.TotalCompletion, &s.TotalTokens, &s.TotalCost); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
