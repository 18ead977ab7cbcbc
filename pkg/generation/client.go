// Package generation turns a prompt plan into model output. It owns the
// response cache lookup, provider fallback, bounded retry of transient
// failures and cost accounting.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/statline-ai/statline/pkg/cache"
	"github.com/statline-ai/statline/pkg/config"
	errs "github.com/statline-ai/statline/pkg/errors"
	"github.com/statline-ai/statline/pkg/ledger"
	"github.com/statline-ai/statline/pkg/logging"
	"github.com/statline-ai/statline/pkg/metrics"
	"github.com/statline-ai/statline/pkg/models"
	"github.com/statline-ai/statline/pkg/prompt"
	"github.com/statline-ai/statline/pkg/provider"
	"github.com/statline-ai/statline/pkg/router"
)

// Resolver maps a requested model to provider targets.
type Resolver interface {
	Resolve(model string) ([]router.Target, error)
}

// BudgetChecker rejects calls for models that are over their spend policy.
type BudgetChecker interface {
	Check(ctx context.Context, model string) error
}

// Options configures a Client. Cache and Budget may be nil.
type Options struct {
	Cache           *cache.Responses
	Router          Resolver
	Pricing         []models.ModelPricing
	Retry           config.RetryConfig
	Timeout         time.Duration
	MaxOutputTokens int
	Counter         prompt.TokenCounter
	Ledger          *ledger.Ledger
	Budget          BudgetChecker
}

// Client is safe for concurrent use.
type Client struct {
	cache     *cache.Responses
	router    Resolver
	pricing   map[string]models.ModelPricing
	retry     config.RetryConfig
	timeout   time.Duration
	maxOutput int
	counter   prompt.TokenCounter
	ledger    *ledger.Ledger
	budget    BudgetChecker
	logger    *zap.Logger
}

// New creates a Client.
func New(opts Options, logger *zap.Logger) *Client {
	logger = logging.OrNop(logger)
	c := &Client{
		cache:     opts.Cache,
		router:    opts.Router,
		pricing:   make(map[string]models.ModelPricing, len(opts.Pricing)),
		retry:     opts.Retry,
		timeout:   opts.Timeout,
		maxOutput: opts.MaxOutputTokens,
		counter:   opts.Counter,
		ledger:    opts.Ledger,
		budget:    opts.Budget,
		logger:    logger,
	}
	for _, p := range opts.Pricing {
		c.pricing[p.Model] = p
	}
	if c.retry.MaxAttempts < 1 {
		c.retry.MaxAttempts = 1
	}
	if c.counter == nil {
		c.counter = prompt.Approximate{}
	}
	if c.ledger == nil {
		c.ledger = ledger.New(nil, logger)
	}
	return c
}

// Ledger returns the ledger charged by this client.
func (c *Client) Ledger() *ledger.Ledger { return c.ledger }

type queryIDKey struct{}

// WithQueryID tags ctx with the query a generation belongs to, for the
// ledger journal.
func WithQueryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, queryIDKey{}, id)
}

func queryID(ctx context.Context) string {
	id, _ := ctx.Value(queryIDKey{}).(string)
	return id
}

// Generate produces the model answer for plan. When onChunk is non-nil the
// call streams and onChunk receives each piece of text in order; a cached
// answer arrives as a single chunk. Errors are classified.
func (c *Client) Generate(ctx context.Context, plan models.PromptPlan, modelID string, onChunk func(string)) (models.GenerationResult, error) {
	start := time.Now()
	g := &call{
		client:  c,
		plan:    plan,
		onChunk: onChunk,
		res: models.GenerationResult{
			Model:       modelID,
			CacheStatus: models.CacheNone,
			Trace:       []models.GenerationState{models.StateIdle},
		},
	}
	res, err := g.run(ctx, modelID)
	res.Latency = time.Since(start)
	return res, err
}

// call is the state of one Generate invocation.
type call struct {
	client    *Client
	plan      models.PromptPlan
	onChunk   func(string)
	res       models.GenerationResult
	delivered bool
	consumed  models.Usage
	cost      float64
	served    string // model of the most recent target called
}

func (g *call) enter(s models.GenerationState) {
	g.res.Trace = append(g.res.Trace, s)
}

func (g *call) run(ctx context.Context, modelID string) (models.GenerationResult, error) {
	c := g.client
	if err := ctx.Err(); err != nil {
		return g.fail(ctx, errs.Cancelled(err))
	}
	if strings.TrimSpace(modelID) == "" {
		return g.fail(ctx, errs.Wrap(errors.New("model id is required"), errs.CategoryInvalidInput, "missing_model", false))
	}

	key, err := cache.Key(modelID, g.plan.Text)
	if err != nil {
		return g.fail(ctx, errs.Wrap(err, errs.CategoryInternalFailure, "cache_key", false))
	}
	g.res.PromptHash = key

	targets, err := c.router.Resolve(modelID)
	if err != nil {
		return g.fail(ctx, err)
	}

	if c.cache != nil {
		g.enter(models.StateCacheLookup)
		unlock, err := c.cache.Lock(ctx, key)
		if err != nil {
			return g.fail(ctx, errs.Cancelled(err))
		}
		defer unlock()

		if entry, ok := c.cache.Get(ctx, key); ok {
			return g.hit(ctx, entry)
		}
	}
	g.enter(models.StateCacheMiss)
	g.res.CacheStatus = models.CacheMiss

	var lastErr error
	for _, t := range targets {
		if c.budget != nil {
			if err := c.budget.Check(ctx, t.Model); err != nil {
				return g.fail(ctx, err)
			}
		}
		text, err := g.tryTarget(ctx, t)
		if err == nil {
			return g.done(ctx, key, text)
		}
		lastErr = err
		if !errs.RetryableOf(err) || g.delivered {
			return g.fail(ctx, err)
		}
		c.logger.Warn("target exhausted, trying next",
			zap.String("provider", t.Provider.Name()),
			zap.String("model", t.Model),
			zap.Error(err))
	}
	return g.fail(ctx, lastErr)
}

func (g *call) hit(ctx context.Context, entry models.CacheEntry) (models.GenerationResult, error) {
	g.enter(models.StateCacheHit)
	g.res.CacheStatus = models.CacheHit
	g.res.Text = entry.Text
	if g.onChunk != nil && entry.Text != "" {
		g.onChunk(entry.Text)
	}
	g.charge(ctx, g.res.Model, false)
	g.enter(models.StateDone)
	metrics.IncGeneration(string(models.CacheHit), "ok")
	return g.res, nil
}

// tryTarget runs the bounded retry loop against one target.
func (g *call) tryTarget(ctx context.Context, t router.Target) (string, error) {
	c := g.client
	var (
		text string
		n    int
	)
	err := retry.Do(
		func() error {
			if n > 0 {
				g.enter(models.StateRetry)
			}
			n++
			g.res.Attempts++
			var err error
			text, err = g.attempt(ctx, t)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.retry.MaxAttempts)),
		retry.Delay(c.retry.BackoffBase),
		retry.MaxDelay(c.retry.MaxBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !g.delivered && errs.RetryableOf(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("attempt failed",
				zap.String("provider", t.Provider.Name()),
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
	)
	if err != nil {
		return "", g.classify(ctx, err)
	}
	return text, nil
}

// attempt makes one provider call under the per-attempt timeout.
func (g *call) attempt(ctx context.Context, t router.Target) (string, error) {
	c := g.client
	g.enter(models.StateCalling)
	g.served = t.Model

	actx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := t.Provider.Generate(actx, provider.Request{
		Model:     t.Model,
		Prompt:    g.plan.Text,
		MaxTokens: c.maxOutput,
		Stream:    g.onChunk != nil,
	})
	if err != nil {
		return "", g.classify(ctx, err)
	}

	switch r := resp.(type) {
	case *provider.Complete:
		g.account(t.Model, r.Usage, r.Text)
		if g.onChunk != nil && r.Text != "" {
			g.enter(models.StateStreaming)
			g.delivered = true
			g.onChunk(r.Text)
		}
		return r.Text, nil
	case *provider.Chunked:
		return g.consume(ctx, t, r.Stream)
	default:
		return "", errs.Wrap(fmt.Errorf("unexpected provider response %T", resp), errs.CategoryInternalFailure, "bad_response", false)
	}
}

// consume forwards stream chunks and assembles the full text. It stops as
// soon as ctx is done.
func (g *call) consume(ctx context.Context, t router.Target, s provider.Stream) (string, error) {
	defer s.Close()
	var sb strings.Builder
	for s.Next() {
		if err := ctx.Err(); err != nil {
			g.account(t.Model, s.Usage(), sb.String())
			return "", errs.Cancelled(err)
		}
		chunk := s.Text()
		sb.WriteString(chunk)
		if g.onChunk == nil {
			continue
		}
		if !g.delivered {
			g.enter(models.StateStreaming)
			g.delivered = true
		}
		g.onChunk(chunk)
	}
	text := sb.String()
	g.account(t.Model, s.Usage(), text)
	if err := s.Err(); err != nil {
		return "", g.classify(ctx, err)
	}
	if err := ctx.Err(); err != nil {
		return "", errs.Cancelled(err)
	}
	return text, nil
}

// account adds an attempt's usage to the running charge. Attempts that
// produced nothing and reported nothing cost nothing.
func (g *call) account(model string, reported *models.Usage, text string) {
	var u models.Usage
	switch {
	case reported != nil && reported.TotalTokens > 0:
		u = *reported
	case reported != nil && reported.PromptTokens+reported.CompletionTokens > 0:
		u = *reported
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	case text != "":
		u = provider.EstimateMissing(nil, g.plan.TotalTokens, g.client.counter.Count(text))
	default:
		return
	}
	g.consumed = g.consumed.Add(u)
	g.cost += g.client.price(model, u)
}

func (c *Client) price(model string, u models.Usage) float64 {
	p, ok := c.pricing[model]
	if !ok {
		c.logger.Warn("no pricing for model, charging zero", zap.String("model", model))
		return 0
	}
	return p.Cost(u)
}

func (g *call) done(ctx context.Context, key, text string) (models.GenerationResult, error) {
	c := g.client
	g.res.Text = text
	g.res.Usage = g.consumed
	g.res.Cost = g.cost

	if c.cache != nil {
		err := c.cache.Put(ctx, models.CacheEntry{
			PromptHash: key,
			Model:      g.res.Model,
			Text:       text,
			Usage:      g.consumed,
		})
		if err != nil {
			c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
	}

	g.charge(ctx, g.served, false)
	g.enter(models.StateDone)
	metrics.IncGeneration(string(models.CacheMiss), "ok")
	return g.res, nil
}

func (g *call) fail(ctx context.Context, err error) (models.GenerationResult, error) {
	g.enter(models.StateFailed)
	g.res.Usage = g.consumed
	g.res.Cost = g.cost
	model := g.served
	if model == "" {
		model = g.res.Model
	}
	g.charge(ctx, model, true)

	outcome := "failed"
	if errs.CategoryOf(err) == errs.CategoryCancelled {
		outcome = "cancelled"
	}
	metrics.IncGeneration(string(g.res.CacheStatus), outcome)
	g.client.logger.Info("generation failed",
		zap.String("model", g.res.Model),
		zap.String("category", string(errs.CategoryOf(err))),
		zap.String("code", errs.CodeOf(err)),
		zap.Int("attempts", g.res.Attempts),
		zap.Error(err))
	return g.res, err
}

// charge records the call on the ledger. Ledger errors come from the
// journal only and never fail the call.
func (g *call) charge(ctx context.Context, model string, failed bool) {
	err := g.client.ledger.Record(context.WithoutCancel(ctx), ledger.Charge{
		QueryID:     queryID(ctx),
		Model:       model,
		CacheStatus: g.res.CacheStatus,
		Failed:      failed,
		Usage:       g.res.Usage,
		Cost:        g.res.Cost,
	})
	if err != nil {
		g.client.logger.Warn("ledger record failed", zap.Error(err))
	}
}

// classify maps err to a generation error. A done parent context always
// wins so a caller cancellation is never retried or reported as transient.
func (g *call) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errs.CategoryOf(err) == errs.CategoryCancelled {
			return err
		}
		return errs.Cancelled(fmt.Errorf("%w: %w", ctxErr, err))
	}
	return provider.Classify(err, 0)
}
