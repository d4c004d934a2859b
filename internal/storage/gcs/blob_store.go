// Package gcs stores rendered previews in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
)

// DefaultPublicBaseURL serves objects of publicly readable buckets.
const DefaultPublicBaseURL = "https://storage.googleapis.com"

// Config captures the bucket and how its objects are addressed publicly.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	// PublicBaseURL replaces DefaultPublicBaseURL, e.g. for a CDN in front of the bucket.
	PublicBaseURL string `mapstructure:"public_base_url"`
	// CacheControl is set on every uploaded object.
	CacheControl string `mapstructure:"cache_control"`
}

// BlobStore writes renders to a GCS bucket.
type BlobStore struct {
	client       *storage.Client
	bucket       string
	publicBase   string
	cacheControl string
}

// New creates a GCS-backed render store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		base = DefaultPublicBaseURL + "/" + cfg.Bucket
	}
	return &BlobStore{
		client:       client,
		bucket:       cfg.Bucket,
		publicBase:   base,
		cacheControl: cfg.CacheControl,
	}, nil
}

// PutObject uploads data and returns the object's public https URL.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", errors.New("path is required")
	}
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if s.cacheControl != "" {
		writer.CacheControl = s.cacheControl
	}
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return s.publicBase + "/" + escapePath(path), nil
}

// Ping verifies the bucket is reachable with the current credentials.
func (s *BlobStore) Ping(ctx context.Context) error {
	if _, err := s.client.Bucket(s.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("bucket %q attributes: %w", s.bucket, err)
	}
	return nil
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
