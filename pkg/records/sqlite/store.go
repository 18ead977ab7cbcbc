// Package sqlite is a record store kept in a SQLite table, one JSON
// document of fields per record.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/statline-ai/statline/pkg/models"
	"github.com/statline-ai/statline/pkg/records"
)

// Store implements records.Store.
type Store struct {
	db *sql.DB
}

const createRecordsTable = `
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	source_type TEXT NOT NULL,
	fields TEXT NOT NULL
);
`

// New opens the store at dbPath, creating the table if needed.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open records db: %w", err)
	}

	if _, err := db.Exec(createRecordsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate records db: %w", err)
	}

	return &Store{db: db}, nil
}

// Get returns the record with id, or records.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (models.Record, error) {
	var (
		rec    = models.Record{ID: id}
		st     string
		fields string
	)
	err := s.db.QueryRowContext(ctx, `SELECT source_type, fields FROM records WHERE id = ?`, id).Scan(&st, &fields)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Record{}, records.ErrNotFound
	}
	if err != nil {
		return models.Record{}, fmt.Errorf("records get %s: %w", id, err)
	}
	rec.SourceType = models.SourceType(st)
	if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
		return models.Record{}, fmt.Errorf("records decode %s: %w", id, err)
	}
	return rec, nil
}

// Put stores rec, replacing any record with the same ID.
func (s *Store) Put(ctx context.Context, rec models.Record) error {
	data, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("records encode %s: %w", rec.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO records (id, source_type, fields) VALUES (?, ?, ?)`,
		rec.ID, string(rec.SourceType), string(data))
	if err != nil {
		return fmt.Errorf("records put %s: %w", rec.ID, err)
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
