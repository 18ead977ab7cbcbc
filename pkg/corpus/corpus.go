// Package corpus loads evidence into the embedding index and record store
// from a JSON Lines file.
package corpus

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/statline-ai/statline/pkg/embed"
	"github.com/statline-ai/statline/pkg/index"
	"github.com/statline-ai/statline/pkg/models"
)

const batchSize = 100

// Line is one corpus entry.
type Line struct {
	ID         string            `json:"id"`
	SourceType models.SourceType `json:"source_type"`
	// Date is YYYY-MM-DD; empty for undated items.
	Date    string         `json:"date,omitempty"`
	Season  int            `json:"season,omitempty"`
	Snippet string         `json:"snippet"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// RecordWriter stores structured records.
type RecordWriter interface {
	Put(ctx context.Context, rec models.Record) error
}

// Result counts what a load wrote.
type Result struct {
	Documents int
	Records   int
}

// Loader embeds corpus lines and writes them out. Records is optional.
type Loader struct {
	Embedder embed.Embedder
	Index    index.Writer
	Records  RecordWriter
}

// Load reads r line by line. Blank lines are skipped; the first malformed
// line aborts the load, leaving earlier batches written.
func (l *Loader) Load(ctx context.Context, r io.Reader) (Result, error) {
	var (
		res   Result
		batch []index.Document
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := l.Index.Upsert(ctx, batch...); err != nil {
			return err
		}
		res.Documents += len(batch)
		batch = batch[:0]
		return nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var line Line
		if err := json.Unmarshal([]byte(text), &line); err != nil {
			return res, fmt.Errorf("corpus line %d: %w", lineNo, err)
		}
		doc, err := l.document(ctx, line)
		if err != nil {
			return res, fmt.Errorf("corpus line %d: %w", lineNo, err)
		}
		batch = append(batch, doc)

		if l.Records != nil && len(line.Fields) > 0 {
			rec := models.Record{ID: line.ID, SourceType: line.SourceType, Fields: line.Fields}
			if err := l.Records.Put(ctx, rec); err != nil {
				return res, fmt.Errorf("corpus line %d: %w", lineNo, err)
			}
			res.Records++
		}
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("read corpus: %w", err)
	}
	return res, flush()
}

func (l *Loader) document(ctx context.Context, line Line) (index.Document, error) {
	if line.ID == "" {
		return index.Document{}, errors.New("missing id")
	}
	if models.SourceRank(line.SourceType) == len(models.SourceTypes) {
		return index.Document{}, fmt.Errorf("%s: unknown source type %q", line.ID, line.SourceType)
	}
	if strings.TrimSpace(line.Snippet) == "" {
		return index.Document{}, fmt.Errorf("%s: empty snippet", line.ID)
	}
	var date time.Time
	if line.Date != "" {
		d, err := time.Parse(time.DateOnly, line.Date)
		if err != nil {
			return index.Document{}, fmt.Errorf("%s: invalid date (use YYYY-MM-DD): %w", line.ID, err)
		}
		date = d
	}
	vec, err := l.Embedder.Embed(ctx, line.Snippet)
	if err != nil {
		return index.Document{}, fmt.Errorf("%s: embed: %w", line.ID, err)
	}
	return index.Document{
		ID:         line.ID,
		SourceType: line.SourceType,
		Anchor:     models.Anchor{Date: date, Season: line.Season},
		Snippet:    line.Snippet,
		Vector:     vec,
	}, nil
}
