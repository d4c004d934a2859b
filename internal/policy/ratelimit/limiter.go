// Package ratelimit implements token buckets that ration requests to each
// screenshot provider, so a burst of captures cannot exhaust a free quota.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter manages one token bucket per key.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	overrides    map[string]rate.Limit
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration. A non-positive rate means
// unlimited.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// PerKeyRPS overrides DefaultRPS for individual keys.
	PerKeyRPS map[string]float64
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	overrides := make(map[string]rate.Limit, len(cfg.PerKeyRPS))
	for key, rps := range cfg.PerKeyRPS {
		overrides[key] = limitFor(rps)
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		overrides:    overrides,
		defaultRate:  limitFor(cfg.DefaultRPS),
		defaultBurst: burst,
	}
}

func limitFor(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// Allow consumes a token for key if one is available now.
func (l *Limiter) Allow(key string) bool {
	return l.limiter(key).Allow()
}

func (l *Limiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[key]
	if !exists {
		r, ok := l.overrides[key]
		if !ok {
			r = l.defaultRate
		}
		limiter = rate.NewLimiter(r, l.defaultBurst)
		l.limiters[key] = limiter
	}
	return limiter
}
