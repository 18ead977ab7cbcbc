// Package index defines the embedding index the retriever searches.
// Backends push the source-type and time filters down so that only
// eligible items compete for the top k.
package index

import (
	"context"
	"sort"
	"time"

	"github.com/statline-ai/statline/pkg/models"
)

// Query is a single filtered similarity search.
type Query struct {
	SourceType models.SourceType
	Vector     []float32
	// Text is the query the vector was built from; backends may ignore it.
	Text  string
	Range models.TimeRange
	// Seasons is the span of season labels overlapping Range. Items anchored
	// only by a season match when their season falls inside it.
	Seasons SeasonSpan
	K       int
}

// SeasonSpan is an inclusive range of season labels. A zero bound is open.
type SeasonSpan struct {
	First int
	Last  int
}

// MatchesSeasons reports whether season-only items can be matched for q.
// Every bounded side of q.Range needs the corresponding season bound;
// without it such items are excluded.
func (q Query) MatchesSeasons() bool {
	if !q.Range.Start.IsZero() && q.Seasons.First == 0 {
		return false
	}
	if !q.Range.End.IsZero() && q.Seasons.Last == 0 {
		return false
	}
	return true
}

// Hit is one ranked search result.
type Hit struct {
	ID         string
	SourceType models.SourceType
	Score      float64
	Anchor     models.Anchor
	Snippet    string
}

// Document is an item as stored in the index.
type Document struct {
	ID         string
	SourceType models.SourceType
	Anchor     models.Anchor
	Snippet    string
	Vector     []float32
}

// Index searches embedded evidence.
type Index interface {
	Search(ctx context.Context, q Query) ([]Hit, error)
	Close() error
}

// Writer adds or replaces documents.
type Writer interface {
	Upsert(ctx context.Context, docs ...Document) error
}

// SortHits orders hits by score descending, then by ID so that equal
// scores have a stable order.
func SortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}

// DayKey encodes the date of t as YYYYMMDD. The zero time maps to 0.
func DayKey(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return int64(t.Year())*10000 + int64(t.Month())*100 + int64(t.Day())
}

// FromDayKey is the inverse of DayKey.
func FromDayKey(k int64) time.Time {
	if k <= 0 {
		return time.Time{}
	}
	return time.Date(int(k/10000), time.Month(k/100%100), int(k%100), 0, 0, 0, 0, time.UTC)
}
