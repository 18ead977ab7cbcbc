// Package retriever gathers the evidence for an interpreted query: one
// filtered similarity search per source type, sized by a weighted budget,
// enriched from the record store and merged into a single ordered set.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/statline-ai/statline/pkg/embed"
	"github.com/statline-ai/statline/pkg/index"
	"github.com/statline-ai/statline/pkg/logging"
	"github.com/statline-ai/statline/pkg/metrics"
	"github.com/statline-ai/statline/pkg/models"
	"github.com/statline-ai/statline/pkg/records"
)

const defaultSearchTimeout = 3 * time.Second

// sourceHints steer each per-type query toward the vocabulary of that
// source's documents.
var sourceHints = map[models.SourceType]string{
	models.SourcePlayer: "player season statistics",
	models.SourceGame:   "game result box score",
	models.SourcePlay:   "play-by-play event",
}

// SeasonMapper finds the seasons a time range overlaps.
type SeasonMapper interface {
	SeasonsIn(r models.TimeRange) (first, last int)
}

// Options configures a Retriever.
type Options struct {
	Weights map[models.SourceType]float64
	// Timeout bounds each search, including its embedding call.
	Timeout time.Duration
	// Seasons places season-anchored items in time. Without it they are
	// excluded from range-bounded searches.
	Seasons SeasonMapper
}

// Retriever implements evidence retrieval. It is safe for concurrent use.
type Retriever struct {
	index    index.Index
	embedder embed.Embedder
	records  records.Store
	weights  map[models.SourceType]float64
	timeout  time.Duration
	seasons  SeasonMapper
	logger   *zap.Logger
}

// New returns a Retriever. A nil record store disables enrichment.
func New(idx index.Index, embedder embed.Embedder, store records.Store, opts Options, logger *zap.Logger) *Retriever {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultSearchTimeout
	}
	return &Retriever{
		index:    idx,
		embedder: embedder,
		records:  store,
		weights:  maps.Clone(opts.Weights),
		timeout:  opts.Timeout,
		seasons:  opts.Seasons,
		logger:   logging.OrNop(logger),
	}
}

type typeResult struct {
	items   []models.EvidenceItem
	err     error
	warning error
}

// Retrieve returns at most budget evidence items for interp. It does not
// fail: upstream errors leave the affected source types empty and mark the
// set as degraded.
func (r *Retriever) Retrieve(ctx context.Context, interp models.QueryInterpretation, budget int) models.EvidenceSet {
	start := time.Now()
	defer metrics.ObserveStage("retrieve", start)

	if budget < 0 {
		budget = 0
	}
	alloc := Allocate(budget, r.weights)
	set := models.EvidenceSet{
		Items:      []models.EvidenceItem{},
		Allocation: alloc,
		Budget:     budget,
	}
	if budget == 0 {
		return set
	}
	if r.index == nil || r.embedder == nil {
		set.Degraded = true
		set.DegradedReasons = []string{"embedding index unavailable"}
		metrics.IncDegraded()
		return set
	}

	results := make(map[models.SourceType]*typeResult, len(models.SourceTypes))
	var g errgroup.Group
	for _, st := range models.SourceTypes {
		k := alloc[st]
		if k == 0 {
			continue
		}
		res := &typeResult{}
		results[st] = res
		g.Go(func() error {
			*res = r.searchType(ctx, interp, st, k)
			// A failed source type must not cancel the others.
			return nil
		})
	}
	_ = g.Wait()

	var failures *multierror.Error
	for _, st := range mergeOrder(alloc, r.weights) {
		res, ok := results[st]
		if !ok {
			continue
		}
		if res.err != nil {
			failures = multierror.Append(failures, fmt.Errorf("%s search: %w", st, res.err))
			set.DegradedReasons = append(set.DegradedReasons, fmt.Sprintf("%s search failed: %v", st, res.err))
			continue
		}
		if res.warning != nil {
			failures = multierror.Append(failures, fmt.Errorf("%s enrichment: %w", st, res.warning))
			set.DegradedReasons = append(set.DegradedReasons, fmt.Sprintf("%s enrichment degraded: %v", st, res.warning))
		}
		set.Items = append(set.Items, res.items...)
		metrics.ObserveEvidence(string(st), len(res.items))
	}

	if err := failures.ErrorOrNil(); err != nil {
		set.Degraded = true
		metrics.IncDegraded()
		r.logger.Warn("retrieval degraded",
			zap.String("query_id", interp.Query.ID),
			zap.Int("items", len(set.Items)),
			zap.Error(err))
	}
	r.logger.Debug("evidence retrieved",
		zap.String("query_id", interp.Query.ID),
		zap.Int("budget", budget),
		zap.Int("items", len(set.Items)),
		zap.Duration("elapsed", time.Since(start)))
	return set
}

// searchType runs the search for one source type and enriches the hits.
// err means the search itself failed; warning means some enrichment did.
func (r *Retriever) searchType(ctx context.Context, interp models.QueryInterpretation, st models.SourceType, k int) typeResult {
	sctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	text := queryText(interp, st)
	vec, err := r.embedder.Embed(sctx, text)
	if err != nil {
		return typeResult{err: fmt.Errorf("embed: %w", err)}
	}
	hits, err := r.index.Search(sctx, index.Query{
		SourceType: st,
		Vector:     vec,
		Text:       text,
		Range:      interp.Range,
		Seasons:    r.seasonSpan(interp.Range),
		K:          k,
	})
	if err != nil {
		return typeResult{err: err}
	}

	index.SortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}

	items := make([]models.EvidenceItem, 0, len(hits))
	var warning error
	for _, h := range hits {
		item := models.EvidenceItem{
			ID:         h.ID,
			SourceType: st,
			Score:      h.Score,
			Anchor:     h.Anchor,
			Snippet:    h.Snippet,
		}
		if err := r.enrich(sctx, &item); err != nil && warning == nil {
			warning = err
		}
		items = append(items, item)
	}
	return typeResult{items: items, warning: warning}
}

func (r *Retriever) seasonSpan(tr models.TimeRange) index.SeasonSpan {
	if r.seasons == nil || (tr.Start.IsZero() && tr.End.IsZero()) {
		return index.SeasonSpan{}
	}
	first, last := r.seasons.SeasonsIn(tr)
	return index.SeasonSpan{First: first, Last: last}
}

// enrich copies the record fields onto item. A missing record leaves the
// item snippet-only and is not an error.
func (r *Retriever) enrich(ctx context.Context, item *models.EvidenceItem) error {
	if r.records == nil {
		return nil
	}
	rec, err := r.records.Get(ctx, item.ID)
	if errors.Is(err, records.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("record %s: %w", item.ID, err)
	}
	item.Fields = rec.Fields
	item.Enriched = true
	return nil
}

// queryText builds the search text for one source type from the question
// and the canonical names of its entities.
func queryText(interp models.QueryInterpretation, st models.SourceType) string {
	parts := []string{strings.TrimSpace(interp.Query.Text)}
	for _, e := range interp.Entities {
		switch e.Type {
		case models.EntityPlayer, models.EntityTeam:
			parts = append(parts, e.Canonical)
		case models.EntitySeason:
			parts = append(parts, e.ID+" season")
		}
	}
	if hint, ok := sourceHints[st]; ok {
		parts = append(parts, hint)
	}
	return strings.Join(parts, " ")
}
