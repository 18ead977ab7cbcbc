// Package records looks up the structured fields behind an evidence item.
package records

import (
	"context"
	"errors"
	"time"

	"github.com/statline-ai/statline/pkg/lru"
	"github.com/statline-ai/statline/pkg/models"
)

// ErrNotFound means the store has no record for the ID. It is not a failure
// of the store itself.
var ErrNotFound = errors.New("record not found")

// Store fetches records by ID.
type Store interface {
	Get(ctx context.Context, id string) (models.Record, error)
}

// Cached fronts a Store with an LRU. Found records and misses are both
// remembered; store errors are not.
type Cached struct {
	store Store
	cache *lru.Cache[cachedRecord]
}

type cachedRecord struct {
	rec   models.Record
	found bool
}

// NewCached wraps store with a cache of size entries living for ttl.
func NewCached(store Store, size int, ttl time.Duration) *Cached {
	return &Cached{store: store, cache: lru.New[cachedRecord](size, ttl)}
}

// Get returns the record for id from the cache or the underlying store.
func (c *Cached) Get(ctx context.Context, id string) (models.Record, error) {
	if v, ok := c.cache.Get(id); ok {
		if !v.found {
			return models.Record{}, ErrNotFound
		}
		return v.rec, nil
	}
	rec, err := c.store.Get(ctx, id)
	switch {
	case err == nil:
		c.cache.Set(id, cachedRecord{rec: rec, found: true}, 0)
	case errors.Is(err, ErrNotFound):
		c.cache.Set(id, cachedRecord{}, 0)
	}
	return rec, err
}
