// Package redis is a cache backend shared between processes. Expiry is
// delegated to Redis key TTLs.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/statline-ai/statline/pkg/config"
	"github.com/statline-ai/statline/pkg/models"
)

const scanCount = 256

// Backend implements cache.Backend on Redis strings holding JSON entries.
type Backend struct {
	client redis.UniversalClient
	prefix string
}

// New connects to the server in cfg.
func New(ctx context.Context, cfg config.RedisConfig) (*Backend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	return NewWithClient(client, cfg.Prefix), nil
}

// NewWithClient wraps an existing client. Every key is stored under prefix.
func NewWithClient(client redis.UniversalClient, prefix string) *Backend {
	return &Backend{client: client, prefix: prefix}
}

func (b *Backend) Get(ctx context.Context, key string) (models.CacheEntry, bool, error) {
	raw, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.CacheEntry{}, false, nil
	}
	if err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("redis get: %w", err)
	}
	var e models.CacheEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return e, true, nil
}

func (b *Backend) Put(ctx context.Context, entry models.CacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := b.client.Set(ctx, b.prefix+entry.PromptHash, raw, entry.TTL).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (b *Backend) Len(ctx context.Context) (int64, error) {
	var n int64
	err := b.scan(ctx, func(string) error {
		n++
		return nil
	})
	return n, err
}

// Clear deletes every prefixed key. Expired keys are already gone in Redis,
// so an expired-only clear removes nothing.
func (b *Backend) Clear(ctx context.Context, expiredOnly bool) (int64, error) {
	if expiredOnly {
		return 0, nil
	}
	var n int64
	err := b.scan(ctx, func(key string) error {
		removed, err := b.client.Del(ctx, key).Result()
		n += removed
		return err
	})
	return n, err
}

func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) scan(ctx context.Context, fn func(key string) error) error {
	iter := b.client.Scan(ctx, 0, b.prefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	return nil
}
