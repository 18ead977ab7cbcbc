package pipeline

import (
	"context"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/statline-ai/statline/pkg/budget"
	"github.com/statline-ai/statline/pkg/cache"
	"github.com/statline-ai/statline/pkg/config"
	"github.com/statline-ai/statline/pkg/embed"
	"github.com/statline-ai/statline/pkg/gazetteer"
	"github.com/statline-ai/statline/pkg/generation"
	"github.com/statline-ai/statline/pkg/index"
	"github.com/statline-ai/statline/pkg/index/milvus"
	indexsqlite "github.com/statline-ai/statline/pkg/index/sqlite"
	"github.com/statline-ai/statline/pkg/ledger"
	"github.com/statline-ai/statline/pkg/logging"
	"github.com/statline-ai/statline/pkg/prompt"
	"github.com/statline-ai/statline/pkg/records"
	recordsqlite "github.com/statline-ai/statline/pkg/records/sqlite"
	"github.com/statline-ai/statline/pkg/retriever"
	"github.com/statline-ai/statline/pkg/router"
	"github.com/statline-ai/statline/pkg/tracker"
	"github.com/statline-ai/statline/pkg/understanding"
)

// Stack is a pipeline wired from configuration, together with the
// resources it owns.
type Stack struct {
	Pipeline *Pipeline
	Ledger   *ledger.Ledger
	Cache    *cache.Responses
	Tracker  tracker.Tracker
	Budget   *budget.Enforcer

	closers []io.Closer
	stop    context.CancelFunc
	watched chan struct{}
}

// Build opens every backend named by cfg and wires the four stages.
// The caller must Close the stack.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Stack, err error) {
	logger = logging.OrNop(logger)
	s := &Stack{}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	names, err := s.openGazetteer(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	calendar := understanding.NewCalendar(cfg.Season)
	interp := understanding.New(names, calendar, logger.Named("understanding"))

	idx, err := openIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, idx)

	embedder, err := embed.New(ctx, cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	store, err := recordsqlite.New(cfg.RecordsPath())
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, store)

	ret := retriever.New(idx, embedder,
		records.NewCached(store, cfg.Records.CacheSize, cfg.Records.CacheTTL),
		retriever.Options{Weights: cfg.Retrieval.Weights, Timeout: cfg.Retrieval.Timeout, Seasons: calendar},
		logger.Named("retriever"))

	counter := prompt.NewCounter(cfg.Prompt.Encoding, logger)
	asm := prompt.NewAssembler(counter, logger.Named("prompt"))

	tr, err := tracker.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open tracker: %w", err)
	}
	s.Tracker = tr
	s.closers = append(s.closers, tr)
	s.Ledger = ledger.New(tr, logger.Named("ledger"))

	var checker generation.BudgetChecker
	if cfg.Budget.Enabled {
		s.Budget = budget.New(cfg.Budget.Policies, tr)
		checker = s.Budget
	}

	s.Cache, err = cache.Open(ctx, cfg.Cache, cfg.DBPath, logger.Named("cache"))
	if err != nil {
		return nil, err
	}
	if s.Cache != nil {
		s.closers = append(s.closers, s.Cache)
	}

	gen := generation.New(generation.Options{
		Cache:           s.Cache,
		Router:          router.FromConfig(cfg),
		Pricing:         cfg.Pricing,
		Retry:           cfg.Retry,
		Timeout:         cfg.Generation.Timeout,
		MaxOutputTokens: cfg.Prompt.MaxOutputTokens,
		Counter:         counter,
		Ledger:          s.Ledger,
		Budget:          checker,
	}, logger.Named("generation"))

	s.Pipeline = New(interp, ret, asm, gen, Options{
		EvidenceBudget: cfg.Retrieval.EvidenceBudget,
		ContextTokens:  cfg.Prompt.ContextTokens,
		DefaultModel:   cfg.DefaultModel,
		MaxQueryBytes:  cfg.Prompt.MaxQueryBytes,
	}, logger.Named("pipeline"))
	return s, nil
}

func (s *Stack) openGazetteer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*gazetteer.Holder, error) {
	gc := cfg.Gazetteer
	if gc.Path == "" {
		logger.Warn("no gazetteer configured; player and team names will not be recognised")
		return gazetteer.NewHolder(nil), nil
	}
	snap, err := gazetteer.LoadFile(gc.Path, gc.MaxDistance)
	if err != nil {
		return nil, fmt.Errorf("load gazetteer: %w", err)
	}
	h := gazetteer.NewHolder(snap)
	if gc.Watch {
		wctx, cancel := context.WithCancel(ctx)
		s.stop = cancel
		s.watched = make(chan struct{})
		go func() {
			defer close(s.watched)
			if err := gazetteer.Watch(wctx, gc.Path, gc.MaxDistance, h, logger.Named("gazetteer")); err != nil {
				logger.Error("gazetteer watcher stopped", zap.Error(err))
			}
		}()
	}
	return h, nil
}

func openIndex(ctx context.Context, cfg *config.Config) (index.Index, error) {
	switch cfg.Index.Backend {
	case "milvus":
		if cfg.Index.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.Index.Timeout)
			defer cancel()
		}
		idx, err := milvus.New(ctx, cfg.Index.Milvus)
		if err != nil {
			return nil, fmt.Errorf("open milvus index: %w", err)
		}
		return idx, nil
	default:
		idx, err := indexsqlite.New(cfg.IndexPath())
		if err != nil {
			return nil, fmt.Errorf("open index: %w", err)
		}
		return idx, nil
	}
}

// Close stops the gazetteer watcher and releases every backend.
func (s *Stack) Close() error {
	if s.stop != nil {
		s.stop()
		<-s.watched
	}
	var result *multierror.Error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
