// Package local stores rendered previews on disk and serves them over HTTP.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local render store.
type Config struct {
	// BaseDir is the root directory where renders are written.
	BaseDir string `mapstructure:"base_dir"`
	// PublicBaseURL prefixes object paths in returned URLs, e.g.
	// "http://localhost:8080/renders".
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// BlobStore writes renders to the local filesystem.
type BlobStore struct {
	baseDir       string
	publicBaseURL string
}

// New creates a filesystem-backed store, creating BaseDir when missing.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, errors.New("base directory is required")
	}
	if strings.TrimSpace(cfg.PublicBaseURL) == "" {
		return nil, errors.New("public base url is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, errors.New("base directory path is not a directory")
	}

	probe := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up write probe: %w", err)
	}

	return &BlobStore{
		baseDir:       cfg.BaseDir,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// PutObject writes data under BaseDir and returns its public URL.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(fullPath), ".render-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write render: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close render: %w", err)
	}
	// Readers of /renders never observe a partially written file.
	if err := os.Rename(tmp, fullPath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("publish render: %w", err)
	}
	return s.publicBaseURL + "/" + filepath.ToSlash(path), nil
}

// Handler serves stored renders. Mount it with http.StripPrefix.
func (s *BlobStore) Handler() http.Handler {
	return http.FileServer(noListing{http.Dir(s.baseDir)})
}

func (s *BlobStore) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}
	cleanBase := filepath.Clean(s.baseDir)
	full := filepath.Clean(filepath.Join(cleanBase, path))
	if !strings.HasPrefix(full, cleanBase+string(filepath.Separator)) {
		return "", errors.New("path traversal detected")
	}
	return full, nil
}

// noListing hides directory indexes.
type noListing struct {
	fs http.FileSystem
}

func (n noListing) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
