// Package headless renders previews locally with chromedp and headless Chrome.
package headless

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/eligetuhosting/previewd/internal/screenshot"
)

// Config controls the headless renderer.
type Config struct {
	Width             int
	Height            int
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is how long the page may paint after the body is ready.
	Settle time.Duration
	// PathPrefix is prepended to every uploaded object name.
	PathPrefix string
}

// IDGenerator names uploaded renders.
type IDGenerator interface {
	NewID() (string, error)
}

// Renderer implements screenshot.Renderer. Captured PNGs are uploaded to a
// BlobStore and the public URL is returned.
type Renderer struct {
	cfg         Config
	blobs       screenshot.BlobStore
	ids         IDGenerator
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	capture     func(ctx context.Context, target string) ([]byte, error)
}

// New creates a chromedp-backed renderer. The browser is started lazily on
// the first Render.
func New(cfg Config, blobs screenshot.BlobStore, ids IDGenerator) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if ids == nil {
		return nil, errors.New("id generator is required")
	}
	if cfg.Width <= 0 {
		cfg.Width = screenshot.DefaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = screenshot.DefaultHeight
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 15 * time.Second
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 500 * time.Millisecond
	}
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = "renders"
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(cfg.Width, cfg.Height),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	r := &Renderer{
		cfg:         cfg,
		blobs:       blobs,
		ids:         ids,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
	r.capture = r.captureChrome
	return r, nil
}

// Close stops the browser.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Render screenshots https://domain/ at the configured viewport and uploads it.
func (r *Renderer) Render(ctx context.Context, domain string) (string, error) {
	if err := r.acquire(ctx); err != nil {
		return "", err
	}
	defer r.release()

	png, err := r.capture(ctx, "https://"+domain+"/")
	if err != nil {
		return "", err
	}
	if len(png) == 0 {
		return "", errors.New("empty screenshot")
	}
	name, err := r.objectName(domain)
	if err != nil {
		return "", err
	}
	url, err := r.blobs.PutObject(ctx, name, "image/png", bytes.NewReader(png))
	if err != nil {
		return "", fmt.Errorf("upload render: %w", err)
	}
	return url, nil
}

func (r *Renderer) captureChrome(ctx context.Context, target string) ([]byte, error) {
	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()
	// Stop the tab when the caller gives up.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, r.cfg.NavigationTimeout)
	defer cancel()

	var buf []byte
	actions := []chromedp.Action{
		r.viewportAction(),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.Settle),
		chromedp.CaptureScreenshot(&buf),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("chromedp run: %w", ctx.Err())
		}
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	return buf, nil
}

func (r *Renderer) viewportAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		err := emulation.SetDeviceMetricsOverride(int64(r.cfg.Width), int64(r.cfg.Height), 1, false).Do(ctx)
		if err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		return nil
	})
}

func (r *Renderer) objectName(domain string) (string, error) {
	id, err := r.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("render id: %w", err)
	}
	safe := strings.NewReplacer(":", "_", "/", "_").Replace(domain)
	return path.Join(r.cfg.PathPrefix, safe, id+".png"), nil
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("render slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}
