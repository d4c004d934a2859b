// Package screenshot implements the best-effort preview pipeline: cache,
// reachability pre-check, sequential provider chain and degraded fallback.
package screenshot

import (
	"time"
)

// ResultKind tags which variant of Result is populated.
type ResultKind string

// Result variants.
const (
	KindSuccess ResultKind = "success"
	KindFailure ResultKind = "failure"
)

// DefaultCacheTTL is how long a successful capture stays servable.
const DefaultCacheTTL = 15 * time.Minute

// CacheEntry is a previously successful capture for a domain.
type CacheEntry struct {
	Domain     string    `json:"domain"`
	ImageURL   string    `json:"image_url"`
	Provider   string    `json:"provider"`
	CapturedAt time.Time `json:"captured_at"`
}

// Expired reports whether the entry is older than ttl at now.
func (e CacheEntry) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.CapturedAt) > ttl
}

// Fallback is the degraded payload returned when no preview could be produced.
type Fallback struct {
	FaviconURL  string `json:"favicon_url,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Result is returned by Service.Capture. Exactly one of the success fields
// (ImageURL, Provider) or failure fields (Reason, Fallback) is populated.
type Result struct {
	Kind      ResultKind `json:"kind"`
	Domain    string     `json:"domain"`
	ImageURL  string     `json:"image_url,omitempty"`
	Provider  string     `json:"provider,omitempty"`
	FromCache bool       `json:"from_cache,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Fallback  *Fallback  `json:"fallback,omitempty"`
}

// Success builds the success variant.
func Success(domain, imageURL, provider string) Result {
	return Result{Kind: KindSuccess, Domain: domain, ImageURL: imageURL, Provider: provider}
}

// Failure builds the failure variant.
func Failure(domain, reason string, fallback *Fallback) Result {
	return Result{Kind: KindFailure, Domain: domain, Reason: reason, Fallback: fallback}
}

// OK reports whether the result carries a preview image.
func (r Result) OK() bool {
	return r.Kind == KindSuccess
}
