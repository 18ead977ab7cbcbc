package cache

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/statline-ai/statline/pkg/cache/memory"
	"github.com/statline-ai/statline/pkg/cache/redis"
	"github.com/statline-ai/statline/pkg/cache/sqlite"
	"github.com/statline-ai/statline/pkg/config"
)

// Open builds the response cache described by cfg. It returns nil when the
// cache is disabled.
func Open(ctx context.Context, cfg config.CacheConfig, dbPath string, logger *zap.Logger) (*Responses, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var (
		backend Backend
		err     error
	)
	switch cfg.Backend {
	case "", "memory":
		backend = memory.New(cfg.MaxEntries, cfg.TTL)
	case "sqlite":
		backend, err = sqlite.New(dbPath)
	case "redis":
		backend, err = redis.New(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewResponses(backend, cfg.TTL, logger), nil
}
