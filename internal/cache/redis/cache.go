// Package redis shares screenshot captures across instances through Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/eligetuhosting/previewd/internal/screenshot"
)

// Config describes the Redis connection and key layout.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// Cache stores entries as JSON under "<prefix><domain>" with a Redis TTL.
type Cache struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
	clock  screenshot.Clock
}

var _ screenshot.Cache = (*Cache)(nil)

// NewClient dials a go-redis client from cfg.
func NewClient(cfg Config) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// New wraps an existing client.
func New(client *goredis.Client, cfg Config, clock screenshot.Clock) (*Cache, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = screenshot.DefaultCacheTTL
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "screenshot:"
	}
	return &Cache{client: client, prefix: prefix, ttl: ttl, clock: clock}, nil
}

func (c *Cache) key(domain string) string {
	return c.prefix + domain
}

// Get loads the entry for domain. Entries whose CapturedAt is older than the
// TTL are deleted even if Redis has not expired them yet (clock skew).
func (c *Cache) Get(ctx context.Context, domain string) (screenshot.CacheEntry, bool, error) {
	raw, err := c.client.Get(ctx, c.key(domain)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return screenshot.CacheEntry{}, false, nil
	}
	if err != nil {
		return screenshot.CacheEntry{}, false, fmt.Errorf("redis get: %w", err)
	}
	var entry screenshot.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return screenshot.CacheEntry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	if entry.Expired(c.clock.Now(), c.ttl) {
		if err := c.client.Del(ctx, c.key(domain)).Err(); err != nil {
			return screenshot.CacheEntry{}, false, fmt.Errorf("redis del: %w", err)
		}
		return screenshot.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

// Put writes entry with the cache TTL; the last writer wins.
func (c *Cache) Put(ctx context.Context, entry screenshot.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.client.Set(ctx, c.key(entry.Domain), string(data), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// SweepExpired is a no-op: Redis evicts keys when their TTL elapses.
func (c *Cache) SweepExpired(context.Context) (int, error) {
	return 0, nil
}

// Ping verifies connectivity; used by the readiness probe.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
