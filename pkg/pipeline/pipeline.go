// Package pipeline answers a natural-language question end to end:
// interpret, retrieve, assemble, generate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	errs "github.com/statline-ai/statline/pkg/errors"
	"github.com/statline-ai/statline/pkg/generation"
	"github.com/statline-ai/statline/pkg/logging"
	"github.com/statline-ai/statline/pkg/metrics"
	"github.com/statline-ai/statline/pkg/models"
)

// Interpreter reads a query.
type Interpreter interface {
	Interpret(q models.Query, reference time.Time) models.QueryInterpretation
}

// Retriever gathers evidence. It never fails.
type Retriever interface {
	Retrieve(ctx context.Context, interp models.QueryInterpretation, budget int) models.EvidenceSet
}

// Assembler builds the prompt.
type Assembler interface {
	Assemble(interp models.QueryInterpretation, set models.EvidenceSet, maxTokens int) (models.PromptPlan, error)
}

// Generator calls the model.
type Generator interface {
	Generate(ctx context.Context, plan models.PromptPlan, modelID string, onChunk func(string)) (models.GenerationResult, error)
}

// DefaultMaxQueryBytes bounds question text when Options leaves it unset.
const DefaultMaxQueryBytes = 2048

// Options are the pipeline's budgets and defaults.
type Options struct {
	EvidenceBudget int
	ContextTokens  int
	DefaultModel   string
	// MaxQueryBytes is the longest question accepted. Longer questions are
	// rejected as invalid input before any stage runs.
	MaxQueryBytes int
}

// Pipeline is safe for concurrent use; queries share nothing but the
// generator's cache and ledger.
type Pipeline struct {
	interpreter Interpreter
	retriever   Retriever
	assembler   Assembler
	generator   Generator
	opts        Options
	now         func() time.Time
	logger      *zap.Logger
}

// New creates a Pipeline from its stages.
func New(in Interpreter, ret Retriever, asm Assembler, gen Generator, opts Options, logger *zap.Logger) *Pipeline {
	if opts.MaxQueryBytes <= 0 {
		opts.MaxQueryBytes = DefaultMaxQueryBytes
	}
	return &Pipeline{
		interpreter: in,
		retriever:   ret,
		assembler:   asm,
		generator:   gen,
		opts:        opts,
		now:         time.Now,
		logger:      logging.OrNop(logger),
	}
}

// Ask answers text. modelPreference overrides the default model when set.
// With a non-nil onChunk the answer is streamed as it is generated; the
// returned Answer still carries the full text. The error, if any, is
// always classified.
func (p *Pipeline) Ask(ctx context.Context, text, modelPreference string, onChunk func(string)) (models.Answer, error) {
	start := p.now()
	if strings.TrimSpace(text) == "" || !utf8.ValidString(text) {
		return models.Answer{}, errs.Wrap(errors.New("question must be non-empty UTF-8 text"), errs.CategoryInvalidInput, "empty_query", false)
	}
	if len(text) > p.opts.MaxQueryBytes {
		return models.Answer{}, errs.Wrap(
			fmt.Errorf("question is %d bytes, the limit is %d", len(text), p.opts.MaxQueryBytes),
			errs.CategoryInvalidInput, "query_too_long", false)
	}

	q := models.Query{
		ID:              uuid.NewString(),
		Text:            text,
		SubmittedAt:     start,
		ModelPreference: modelPreference,
	}
	log := p.logger.With(zap.String("query_id", q.ID))

	stage := time.Now()
	interp := p.interpreter.Interpret(q, q.SubmittedAt)
	metrics.ObserveStage("interpret", stage)
	metrics.IncIntent(string(interp.Intent))
	log.Debug("interpreted",
		zap.String("intent", string(interp.Intent)),
		zap.Strings("entities", entityNames(interp.Entities)),
		zap.Stringer("range", interp.Range),
		zap.Float64("confidence", interp.Confidence))

	if err := ctx.Err(); err != nil {
		return models.Answer{}, errs.Cancelled(err)
	}
	set := p.retriever.Retrieve(ctx, interp, p.opts.EvidenceBudget)
	if set.Degraded {
		log.Warn("retrieval degraded", zap.Strings("reasons", set.DegradedReasons))
	}

	if err := ctx.Err(); err != nil {
		return models.Answer{}, errs.Cancelled(err)
	}
	stage = time.Now()
	plan, err := p.assembler.Assemble(interp, set, p.opts.ContextTokens)
	metrics.ObserveStage("assemble", stage)
	if err != nil {
		log.Error("prompt assembly failed", zap.Error(err))
		return models.Answer{}, err
	}

	model := modelPreference
	if model == "" {
		model = p.opts.DefaultModel
	}
	stage = time.Now()
	res, err := p.generator.Generate(generation.WithQueryID(ctx, q.ID), plan, model, onChunk)
	metrics.ObserveStage("generate", stage)
	if err != nil {
		return models.Answer{}, err
	}
	if strings.TrimSpace(res.Text) == "" {
		return models.Answer{}, errs.Wrap(errors.New("model returned an empty answer"), errs.CategoryGenerationPermanent, "empty_answer", false)
	}

	ans := models.Answer{
		QueryID:    q.ID,
		Text:       res.Text,
		Citations:  citations(plan, set),
		Cost:       res.Cost,
		LatencyMs:  p.now().Sub(start).Milliseconds(),
		CacheHit:   res.CacheStatus == models.CacheHit,
		Model:      model,
		Intent:     interp.Intent,
		Confidence: interp.Confidence,
		Degraded:   set.Degraded,
	}
	log.Info("answered",
		zap.String("model", model),
		zap.Bool("cache_hit", ans.CacheHit),
		zap.Int("citations", len(ans.Citations)),
		zap.Int("dropped", plan.Dropped),
		zap.Float64("cost", ans.Cost),
		zap.Int64("latency_ms", ans.LatencyMs))
	return ans, nil
}

// citations lists the evidence that made it into the prompt, in prompt
// order.
func citations(plan models.PromptPlan, set models.EvidenceSet) []models.Citation {
	byID := make(map[string]models.EvidenceItem, len(set.Items))
	for _, it := range set.Items {
		byID[it.ID] = it
	}
	out := make([]models.Citation, 0, len(plan.Included))
	for _, id := range plan.Included {
		it, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, models.Citation{ID: it.ID, SourceType: it.SourceType, Anchor: it.Anchor, Score: it.Score})
	}
	return out
}

func entityNames(es []models.Entity) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.String()
	}
	return out
}
