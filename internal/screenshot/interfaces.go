package screenshot

import (
	"context"
	"io"
	"time"
)

// Cache stores successful captures keyed by domain. Implementations apply
// lazy expiry in Get and must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, domain string) (CacheEntry, bool, error)
	Put(ctx context.Context, entry CacheEntry) error
	SweepExpired(ctx context.Context) (int, error)
}

// Resolver answers whether a domain has a usable A record.
type Resolver interface {
	Reachable(ctx context.Context, domain string) (bool, error)
}

// ImageProber checks that a URL serves an image before ctx ends.
type ImageProber interface {
	Probe(ctx context.Context, url string) error
}

// IconDiscoverer finds a favicon URL declared by the site itself.
type IconDiscoverer interface {
	Discover(ctx context.Context, domain string) (string, error)
}

// Throttle rations requests per provider. Allow reports whether a request to
// key may go out now without waiting.
type Throttle interface {
	Allow(key string) bool
}

// CaptureIDGenerator mints the identifier shared by all events of one run.
type CaptureIDGenerator interface {
	NewCaptureID() ([16]byte, error)
}

// Renderer produces a preview locally when every remote provider failed.
type Renderer interface {
	Render(ctx context.Context, domain string) (string, error)
}

// BlobStore writes rendered images and returns a URL a browser can load.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
