// Package sqlite is an embedding index stored in a SQLite table. Filters
// run in SQL; similarity is computed in process over the filtered rows.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/statline-ai/statline/pkg/embed"
	"github.com/statline-ai/statline/pkg/index"
	"github.com/statline-ai/statline/pkg/models"
)

// Index implements index.Index and index.Writer.
type Index struct {
	db *sql.DB
}

const createIndexTable = `
CREATE TABLE IF NOT EXISTS evidence_index (
	id TEXT PRIMARY KEY,
	source_type TEXT NOT NULL,
	anchor_day INTEGER NOT NULL DEFAULT 0,
	season INTEGER NOT NULL DEFAULT 0,
	snippet TEXT NOT NULL,
	vector BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_evidence_type_day ON evidence_index(source_type, anchor_day);
`

// New opens the index at dbPath, creating the table if needed.
func New(dbPath string) (*Index, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}

	if _, err := db.Exec(createIndexTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate index db: %w", err)
	}

	return &Index{db: db}, nil
}

// Upsert stores docs, replacing any with the same ID.
func (x *Index) Upsert(ctx context.Context, docs ...index.Document) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO evidence_index (id, source_type, anchor_day, season, snippet, vector)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index upsert: %w", err)
	}
	defer stmt.Close()

	for _, d := range docs {
		if _, err := stmt.ExecContext(ctx, d.ID, string(d.SourceType), index.DayKey(d.Anchor.Date),
			d.Anchor.Season, d.Snippet, encodeVector(d.Vector)); err != nil {
			return fmt.Errorf("index upsert %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

// Search returns the top q.K rows of q.SourceType anchored inside q.Range,
// ranked by cosine similarity to q.Vector. When the range is bounded, rows
// without an anchor date match only through their season.
func (x *Index) Search(ctx context.Context, q index.Query) ([]index.Hit, error) {
	if q.K <= 0 {
		return nil, nil
	}

	where := []string{"source_type = ?"}
	args := []any{string(q.SourceType)}
	if !q.Range.Start.IsZero() || !q.Range.End.IsZero() {
		cond, condArgs := rangeFilter(q)
		where = append(where, cond)
		args = append(args, condArgs...)
	}

	rows, err := x.db.QueryContext(ctx,
		`SELECT id, anchor_day, season, snippet, vector FROM evidence_index WHERE `+strings.Join(where, " AND "),
		args...)
	if err != nil {
		return nil, fmt.Errorf("index search: %w", err)
	}
	defer rows.Close()

	var hits []index.Hit
	for rows.Next() {
		var (
			h      index.Hit
			day    int64
			season int
			blob   []byte
		)
		if err := rows.Scan(&h.ID, &day, &season, &h.Snippet, &blob); err != nil {
			return nil, fmt.Errorf("index search scan: %w", err)
		}
		score, err := embed.CosineSimilarity(q.Vector, decodeVector(blob))
		if err != nil {
			// Vectors from a different embedder cannot be compared.
			continue
		}
		h.SourceType = q.SourceType
		h.Score = score
		h.Anchor = models.Anchor{Date: index.FromDayKey(day), Season: season}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index search: %w", err)
	}

	index.SortHits(hits)
	if len(hits) > q.K {
		hits = hits[:q.K]
	}
	return hits, nil
}

// rangeFilter matches dated rows against q.Range and season-only rows
// against q.Seasons.
func rangeFilter(q index.Query) (string, []any) {
	dated := []string{"anchor_day > 0"}
	var args []any
	if !q.Range.Start.IsZero() {
		dated = append(dated, "anchor_day >= ?")
		args = append(args, index.DayKey(q.Range.Start))
	}
	if !q.Range.End.IsZero() {
		dated = append(dated, "anchor_day <= ?")
		args = append(args, index.DayKey(q.Range.End))
	}
	cond := "(" + strings.Join(dated, " AND ") + ")"
	if !q.MatchesSeasons() {
		return cond, args
	}

	seasonal := []string{"anchor_day = 0", "season > 0"}
	if q.Seasons.First > 0 {
		seasonal = append(seasonal, "season >= ?")
		args = append(args, q.Seasons.First)
	}
	if q.Seasons.Last > 0 {
		seasonal = append(seasonal, "season <= ?")
		args = append(args, q.Seasons.Last)
	}
	return "(" + cond + " OR (" + strings.Join(seasonal, " AND ") + "))", args
}

// Count returns the number of indexed documents.
func (x *Index) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM evidence_index`).Scan(&n); err != nil {
		return 0, fmt.Errorf("index count: %w", err)
	}
	return n, nil
}

// Close releases the database connection.
func (x *Index) Close() error {
	return x.db.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
