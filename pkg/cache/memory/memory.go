// Package memory is an in-process cache backend bounded by entry count.
package memory

import (
	"context"
	"time"

	"github.com/statline-ai/statline/pkg/lru"
	"github.com/statline-ai/statline/pkg/models"
)

// Backend keeps at most a fixed number of entries, evicting the least
// recently used.
type Backend struct {
	entries *lru.Cache[models.CacheEntry]
}

// New creates a backend holding up to maxEntries entries that expire after
// ttl.
func New(maxEntries int, ttl time.Duration) *Backend {
	return &Backend{entries: lru.New[models.CacheEntry](maxEntries, ttl)}
}

func (b *Backend) Get(_ context.Context, key string) (models.CacheEntry, bool, error) {
	e, ok := b.entries.Get(key)
	return e, ok, nil
}

func (b *Backend) Put(_ context.Context, entry models.CacheEntry) error {
	b.entries.Set(entry.PromptHash, entry, entry.TTL)
	return nil
}

func (b *Backend) Len(context.Context) (int64, error) {
	return int64(b.entries.Len()), nil
}

func (b *Backend) Clear(_ context.Context, expiredOnly bool) (int64, error) {
	if expiredOnly {
		return int64(b.entries.PurgeExpired()), nil
	}
	n := b.entries.Len()
	b.entries.Purge()
	return int64(n), nil
}

func (b *Backend) Close() error { return nil }
