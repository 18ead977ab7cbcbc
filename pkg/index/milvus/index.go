// Package milvus searches evidence stored in a Milvus collection. The
// source-type and date filters are sent as a boolean expression so Milvus
// applies them before ranking.
package milvus

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/statline-ai/statline/pkg/config"
	"github.com/statline-ai/statline/pkg/index"
	"github.com/statline-ai/statline/pkg/models"
)

// Collection field names.
const (
	fieldID         = "id"
	fieldSourceType = "source_type"
	fieldAnchorDay  = "anchor_day"
	fieldSeason     = "season"
	fieldSnippet    = "snippet"
)

var outputFields = []string{fieldSourceType, fieldAnchorDay, fieldSeason, fieldSnippet}

// searcher is the part of client.Client the index uses.
type searcher interface {
	Search(ctx context.Context, collName string, partitions []string, expr string, outputFields []string,
		vectors []entity.Vector, vectorField string, metricType entity.MetricType, topK int,
		sp entity.SearchParam, opts ...client.SearchQueryOptionFunc) ([]client.SearchResult, error)
	Close() error
}

// Index implements index.Index over a Milvus collection.
type Index struct {
	c           searcher
	collection  string
	vectorField string
}

// New connects to the Milvus server described by cfg.
func New(ctx context.Context, cfg config.MilvusConfig) (*Index, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("connect milvus %s: %w", cfg.Address, err)
	}
	return newIndex(c, cfg.Collection, cfg.VectorField), nil
}

func newIndex(c searcher, collection, vectorField string) *Index {
	return &Index{c: c, collection: collection, vectorField: vectorField}
}

// Search runs a filtered cosine search.
func (x *Index) Search(ctx context.Context, q index.Query) ([]index.Hit, error) {
	if q.K <= 0 {
		return nil, nil
	}
	sp, err := entity.NewIndexFlatSearchParam()
	if err != nil {
		return nil, fmt.Errorf("milvus search params: %w", err)
	}

	results, err := x.c.Search(ctx, x.collection, nil, filterExpr(q), outputFields,
		[]entity.Vector{entity.FloatVector(q.Vector)}, x.vectorField, entity.COSINE, q.K, sp)
	if err != nil {
		return nil, fmt.Errorf("milvus search: %w", err)
	}

	var hits []index.Hit
	for _, r := range results {
		if r.Err != nil {
			return nil, fmt.Errorf("milvus search: %w", r.Err)
		}
		for i := 0; i < r.ResultCount; i++ {
			h, err := decodeHit(r, i)
			if err != nil {
				return nil, err
			}
			hits = append(hits, h)
		}
	}
	index.SortHits(hits)
	if len(hits) > q.K {
		hits = hits[:q.K]
	}
	return hits, nil
}

// Close disconnects from Milvus.
func (x *Index) Close() error {
	return x.c.Close()
}

// filterExpr builds the boolean pre-filter for q.
func filterExpr(q index.Query) string {
	expr := fieldSourceType + " == " + strconv.Quote(string(q.SourceType))
	if q.Range.Start.IsZero() && q.Range.End.IsZero() {
		return expr
	}

	dated := []string{fieldAnchorDay + " > 0"}
	if !q.Range.Start.IsZero() {
		dated = append(dated, fmt.Sprintf("%s >= %d", fieldAnchorDay, index.DayKey(q.Range.Start)))
	}
	if !q.Range.End.IsZero() {
		dated = append(dated, fmt.Sprintf("%s <= %d", fieldAnchorDay, index.DayKey(q.Range.End)))
	}
	cond := "(" + strings.Join(dated, " && ") + ")"
	if q.MatchesSeasons() {
		seasonal := []string{fieldAnchorDay + " == 0", fieldSeason + " > 0"}
		if q.Seasons.First > 0 {
			seasonal = append(seasonal, fmt.Sprintf("%s >= %d", fieldSeason, q.Seasons.First))
		}
		if q.Seasons.Last > 0 {
			seasonal = append(seasonal, fmt.Sprintf("%s <= %d", fieldSeason, q.Seasons.Last))
		}
		cond = "(" + cond + " || (" + strings.Join(seasonal, " && ") + "))"
	}
	return expr + " && " + cond
}

func decodeHit(r client.SearchResult, i int) (index.Hit, error) {
	id, err := r.IDs.GetAsString(i)
	if err != nil {
		return index.Hit{}, fmt.Errorf("milvus result id: %w", err)
	}
	h := index.Hit{ID: id}
	if i < len(r.Scores) {
		h.Score = float64(r.Scores[i])
	}
	if col := r.Fields.GetColumn(fieldSourceType); col != nil {
		st, err := col.GetAsString(i)
		if err != nil {
			return index.Hit{}, fmt.Errorf("milvus result %s: %w", fieldSourceType, err)
		}
		h.SourceType = models.SourceType(st)
	}
	if col := r.Fields.GetColumn(fieldSnippet); col != nil {
		if h.Snippet, err = col.GetAsString(i); err != nil {
			return index.Hit{}, fmt.Errorf("milvus result %s: %w", fieldSnippet, err)
		}
	}
	if col := r.Fields.GetColumn(fieldAnchorDay); col != nil {
		d, err := col.GetAsInt64(i)
		if err != nil {
			return index.Hit{}, fmt.Errorf("milvus result %s: %w", fieldAnchorDay, err)
		}
		h.Anchor.Date = index.FromDayKey(d)
	}
	if col := r.Fields.GetColumn(fieldSeason); col != nil {
		s, err := col.GetAsInt64(i)
		if err != nil {
			return index.Hit{}, fmt.Errorf("milvus result %s: %w", fieldSeason, err)
		}
		h.Anchor.Season = int(s)
	}
	return h, nil
}
