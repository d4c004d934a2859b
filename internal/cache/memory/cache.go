// Package memory keeps screenshot captures in a process-local map.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/eligetuhosting/previewd/internal/screenshot"
)

// Cache is a TTL map keyed by domain. Expired entries are removed lazily on
// Get and opportunistically on every Put.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   screenshot.Clock
	entries map[string]screenshot.CacheEntry
}

var _ screenshot.Cache = (*Cache)(nil)

// New builds a Cache. A non-positive ttl falls back to screenshot.DefaultCacheTTL.
func New(ttl time.Duration, clock screenshot.Clock) *Cache {
	if ttl <= 0 {
		ttl = screenshot.DefaultCacheTTL
	}
	return &Cache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]screenshot.CacheEntry),
	}
}

// Get returns the live entry for domain, deleting it first if it expired.
func (c *Cache) Get(_ context.Context, domain string) (screenshot.CacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[domain]
	if !ok {
		return screenshot.CacheEntry{}, false, nil
	}
	if entry.Expired(c.clock.Now(), c.ttl) {
		delete(c.entries, domain)
		return screenshot.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

// Put stores entry (last write wins) and sweeps anything already expired.
func (c *Cache) Put(_ context.Context, entry screenshot.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked(c.clock.Now())
	c.entries[entry.Domain] = entry
	return nil
}

// SweepExpired removes every expired entry.
func (c *Cache) SweepExpired(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(c.clock.Now()), nil
}

// Len reports the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) sweepLocked(now time.Time) int {
	removed := 0
	for domain, entry := range c.entries {
		if entry.Expired(now, c.ttl) {
			delete(c.entries, domain)
			removed++
		}
	}
	return removed
}
