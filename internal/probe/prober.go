// Package probe verifies that a URL serves a loadable image.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"
)

// Probe failures.
var (
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrNotImage         = errors.New("response is not an image")
	ErrEmptyImage       = errors.New("image body is empty")
)

const defaultMaxBytes = 8 << 20

// Config controls the probing HTTP client.
type Config struct {
	UserAgent string
	// MaxBytes caps how much of the image body is read (default 8 MiB).
	MaxBytes int64
	Client   *http.Client
}

// Prober implements screenshot.ImageProber with a plain GET. The image is
// downloaded (up to MaxBytes) so a provider that stalls mid-body still counts
// as a failure once the caller's deadline passes.
type Prober struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

// New builds a Prober with a pooled transport.
func New(cfg Config) *Prober {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Transport: NewTransport()}
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Prober{client: client, userAgent: cfg.UserAgent, maxBytes: maxBytes}
}

// Probe returns nil when target answers 2xx with an image/* body before ctx ends.
func (p *Prober) Probe(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Accept", "image/avif,image/webp,image/png,image/*;q=0.8")
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	if !IsImage(resp.Header.Get("Content-Type")) {
		return fmt.Errorf("%w: %q", ErrNotImage, resp.Header.Get("Content-Type"))
	}
	n, err := io.Copy(io.Discard, io.LimitReader(resp.Body, p.maxBytes))
	if err != nil {
		return fmt.Errorf("read image body: %w", err)
	}
	if n == 0 {
		return ErrEmptyImage
	}
	return nil
}

// IsImage reports whether a Content-Type header names an image media type.
func IsImage(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/")
}

// NewTransport returns the shared outbound transport.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}
