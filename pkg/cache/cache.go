// Package cache is the response cache in front of the language model. Keys
// are derived from the prompt and model; entries expire after a TTL and
// only ever hold complete responses.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/statline-ai/statline/pkg/logging"
	"github.com/statline-ai/statline/pkg/models"
)

// Backend stores cache entries. Backends are not required to enforce TTLs;
// Responses checks expiry on every read.
type Backend interface {
	Get(ctx context.Context, key string) (models.CacheEntry, bool, error)
	Put(ctx context.Context, entry models.CacheEntry) error
	Len(ctx context.Context) (int64, error)
	// Clear removes entries, or only expired ones, and returns how many.
	Clear(ctx context.Context, expiredOnly bool) (int64, error)
	Close() error
}

// Key returns the cache key for prompt under model: the hex SHA-256 of the
// RFC 8785 canonical JSON of both.
func Key(model, prompt string) (string, error) {
	raw, err := json.Marshal(struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
	}{model, prompt})
	if err != nil {
		return "", fmt.Errorf("encode cache key: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize cache key: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Responses is the cache used by the generation client. It is safe for
// concurrent use.
type Responses struct {
	backend Backend
	ttl     time.Duration
	locks   *keyedMutex
	hits    atomic.Int64
	misses  atomic.Int64
	now     func() time.Time
	logger  *zap.Logger
}

// NewResponses wraps backend with a TTL.
func NewResponses(backend Backend, ttl time.Duration, logger *zap.Logger) *Responses {
	return &Responses{
		backend: backend,
		ttl:     ttl,
		locks:   newKeyedMutex(),
		now:     time.Now,
		logger:  logging.OrNop(logger),
	}
}

// Lock serialises work on key until the returned function is called. It
// gives up when ctx is done.
func (r *Responses) Lock(ctx context.Context, key string) (func(), error) {
	return r.locks.Lock(ctx, key)
}

// Get returns the live entry for key. A backend failure counts as a miss.
func (r *Responses) Get(ctx context.Context, key string) (models.CacheEntry, bool) {
	entry, ok, err := r.backend.Get(ctx, key)
	if err != nil {
		r.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		ok = false
	}
	if ok && entry.Expired(r.now()) {
		ok = false
	}
	if !ok {
		r.misses.Inc()
		return models.CacheEntry{}, false
	}
	r.hits.Inc()
	return entry, true
}

// Put stores a complete response, stamping it with the creation time and
// the cache TTL.
func (r *Responses) Put(ctx context.Context, entry models.CacheEntry) error {
	entry.CreatedAt = r.now().UTC()
	entry.TTL = r.ttl
	if err := r.backend.Put(ctx, entry); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Stats returns the entry count and the hit and miss counters.
func (r *Responses) Stats(ctx context.Context) (models.CacheStats, error) {
	n, err := r.backend.Len(ctx)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{Entries: n, Hits: r.hits.Load(), Misses: r.misses.Load()}, nil
}

// Clear removes entries from the backend.
func (r *Responses) Clear(ctx context.Context, expiredOnly bool) (int64, error) {
	return r.backend.Clear(ctx, expiredOnly)
}

// Close releases the backend.
func (r *Responses) Close() error {
	return r.backend.Close()
}
