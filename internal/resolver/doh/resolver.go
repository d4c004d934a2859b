// Package doh checks domain reachability through a DNS-over-HTTPS JSON API.
package doh

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultEndpoint is Google's public JSON resolver.
const DefaultEndpoint = "https://dns.google/resolve"

const maxResponseBytes = 64 << 10

// Config controls the resolver endpoint and HTTP client.
type Config struct {
	Endpoint  string
	UserAgent string
	Client    *http.Client
}

// Resolver implements screenshot.Resolver.
type Resolver struct {
	endpoint  string
	userAgent string
	client    *http.Client
}

// Response mirrors the subset of the DoH JSON payload we care about.
type Response struct {
	Status int      `json:"Status"`
	Answer []Answer `json:"Answer"`
}

// Answer is a single resource record.
type Answer struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	TTL  int    `json:"TTL"`
	Data string `json:"data"`
}

// New builds a Resolver. Callers bound each lookup with the ctx deadline.
func New(cfg Config) *Resolver {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Resolver{endpoint: endpoint, userAgent: cfg.UserAgent, client: client}
}

// Reachable reports whether domain has at least one A answer with NOERROR status.
func (r *Resolver) Reachable(ctx context.Context, domain string) (bool, error) {
	resp, err := r.Lookup(ctx, domain)
	if err != nil {
		return false, err
	}
	return resp.Status == 0 && len(resp.Answer) > 0, nil
}

// Lookup queries the A records of domain.
func (r *Resolver) Lookup(ctx context.Context, domain string) (Response, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return Response{}, fmt.Errorf("parse doh endpoint: %w", err)
	}
	q := u.Query()
	q.Set("name", domain)
	q.Set("type", "A")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Response{}, fmt.Errorf("build doh request: %w", err)
	}
	req.Header.Set("Accept", "application/dns-json")
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	res, err := r.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("doh request: %w", err)
	}
	defer res.Body.Close() //nolint:errcheck // read-only body

	if res.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("doh request: unexpected status %d", res.StatusCode)
	}
	var out Response
	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseBytes)).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decode doh response: %w", err)
	}
	return out, nil
}
