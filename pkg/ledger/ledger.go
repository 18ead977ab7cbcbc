// Package ledger keeps the process-wide running cost of generation. Totals
// only ever grow; readers get copies.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/statline-ai/statline/pkg/logging"
	"github.com/statline-ai/statline/pkg/metrics"
	"github.com/statline-ai/statline/pkg/models"
)

// Charge is the accounting outcome of one generate call.
type Charge struct {
	QueryID     string
	Model       string
	CacheStatus models.CacheStatus
	Failed      bool
	Usage       models.Usage
	Cost        float64
	At          time.Time
}

// Totals are cumulative counters.
type Totals struct {
	QueriesServed    int64   `json:"queries_served"`
	CacheHits        int64   `json:"cache_hits"`
	CacheMisses      int64   `json:"cache_misses"`
	Failures         int64   `json:"failures"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

func (t *Totals) add(c Charge) {
	if c.Failed {
		t.Failures++
	} else {
		t.QueriesServed++
	}
	switch c.CacheStatus {
	case models.CacheHit:
		t.CacheHits++
	case models.CacheMiss:
		t.CacheMisses++
	}
	t.PromptTokens += int64(c.Usage.PromptTokens)
	t.CompletionTokens += int64(c.Usage.CompletionTokens)
	t.TotalTokens += int64(c.Usage.TotalTokens)
	t.Cost += c.Cost
}

// Snapshot is a point-in-time copy of the ledger.
type Snapshot struct {
	Totals
	ByModel map[string]Totals `json:"by_model"`
	Since   time.Time         `json:"since"`
}

// Journal persists charges.
type Journal interface {
	Record(ctx context.Context, rec models.UsageRecord) error
}

// Ledger accumulates charges. It is safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	totals  Totals
	byModel map[string]Totals
	since   time.Time
	journal Journal
	logger  *zap.Logger
}

// New creates an empty ledger. journal may be nil.
func New(journal Journal, logger *zap.Logger) *Ledger {
	return &Ledger{
		byModel: make(map[string]Totals),
		since:   time.Now().UTC(),
		journal: journal,
		logger:  logging.OrNop(logger),
	}
}

// Record adds c to the totals and, if configured, journals it. Negative
// token counts or cost are rejected so the totals never decrease. The
// in-memory totals are updated even if the journal write fails.
func (l *Ledger) Record(ctx context.Context, c Charge) error {
	if c.Cost < 0 || c.Usage.PromptTokens < 0 || c.Usage.CompletionTokens < 0 || c.Usage.TotalTokens < 0 {
		return fmt.Errorf("ledger: negative charge for %s", c.Model)
	}
	if c.At.IsZero() {
		c.At = time.Now().UTC()
	}

	l.mu.Lock()
	l.totals.add(c)
	m := l.byModel[c.Model]
	m.add(c)
	l.byModel[c.Model] = m
	l.mu.Unlock()

	metrics.AddCost(c.Model, c.Cost)

	if l.journal == nil {
		return nil
	}
	err := l.journal.Record(ctx, models.UsageRecord{
		QueryID:          c.QueryID,
		Model:            c.Model,
		CacheStatus:      c.CacheStatus,
		Failed:           c.Failed,
		PromptTokens:     c.Usage.PromptTokens,
		CompletionTokens: c.Usage.CompletionTokens,
		TotalTokens:      c.Usage.TotalTokens,
		Cost:             c.Cost,
		CreatedAt:        c.At,
	})
	if err != nil {
		l.logger.Warn("journal write failed", zap.String("query_id", c.QueryID), zap.Error(err))
		return fmt.Errorf("journal charge: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the current totals.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	byModel := make(map[string]Totals, len(l.byModel))
	for k, v := range l.byModel {
		byModel[k] = v
	}
	return Snapshot{Totals: l.totals, ByModel: byModel, Since: l.since}
}
