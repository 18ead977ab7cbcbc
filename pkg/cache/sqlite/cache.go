// Package sqlite is a durable cache backend. Entries survive restarts and
// are only removed by Clear.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/statline-ai/statline/pkg/models"
)

// Backend implements cache.Backend on a SQLite table.
type Backend struct {
	db  *sql.DB
	now func() time.Time
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	prompt_hash TEXT PRIMARY KEY,
	model TEXT NOT NULL,
	response TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	created_at_ms INTEGER NOT NULL,
	ttl_ms INTEGER NOT NULL
);
`

// New opens the backend at dbPath.
func New(dbPath string) (*Backend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Backend{db: db, now: time.Now}, nil
}

// Get returns the stored entry for key, expired or not.
func (b *Backend) Get(ctx context.Context, key string) (models.CacheEntry, bool, error) {
	var (
		e         = models.CacheEntry{PromptHash: key}
		createdAt int64
		ttlMillis int64
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT model, response, prompt_tokens, completion_tokens, created_at_ms, ttl_ms
		 FROM cache_entries WHERE prompt_hash = ?`, key,
	).Scan(&e.Model, &e.Text, &e.Usage.PromptTokens, &e.Usage.CompletionTokens, &createdAt, &ttlMillis)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CacheEntry{}, false, nil
	}
	if err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("cache get: %w", err)
	}
	e.Usage.TotalTokens = e.Usage.PromptTokens + e.Usage.CompletionTokens
	e.CreatedAt = time.UnixMilli(createdAt).UTC()
	e.TTL = time.Duration(ttlMillis) * time.Millisecond
	return e, true, nil
}

// Put stores entry, replacing any previous entry under the same key.
func (b *Backend) Put(ctx context.Context, entry models.CacheEntry) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries
		 (prompt_hash, model, response, prompt_tokens, completion_tokens, created_at_ms, ttl_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.PromptHash, entry.Model, entry.Text,
		entry.Usage.PromptTokens, entry.Usage.CompletionTokens,
		entry.CreatedAt.UnixMilli(), entry.TTL.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Len counts stored entries.
func (b *Backend) Len(ctx context.Context) (int64, error) {
	var count int64
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("cache count: %w", err)
	}
	return count, nil
}

// Clear removes cache entries. If expiredOnly is true, only expired entries are removed.
func (b *Backend) Clear(ctx context.Context, expiredOnly bool) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if expiredOnly {
		res, err = b.db.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE ttl_ms > 0 AND created_at_ms + ttl_ms < ?`,
			b.now().UnixMilli())
	} else {
		res, err = b.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	}
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database connection.
func (b *Backend) Close() error {
	return b.db.Close()
}
