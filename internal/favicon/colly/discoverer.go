// Package collyicon finds a site's own favicon by scraping its homepage with gocolly.
package collyicon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/eligetuhosting/previewd/internal/probe"
)

// ErrNoIcon is returned when neither a <link rel=icon> nor /favicon.ico is usable.
var ErrNoIcon = errors.New("no icon declared")

// Config controls the homepage collector.
type Config struct {
	UserAgent string
	// Scheme used to reach the homepage; "https" unless overridden.
	Scheme  string
	Timeout time.Duration
	// MaxBodySize caps the homepage read (default 1 MiB).
	MaxBodySize int
}

// Discoverer implements screenshot.IconDiscoverer.
type Discoverer struct {
	cfg  Config
	base *colly.Collector
}

type collectorHooks interface {
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Discoverer sharing one pooled transport across lookups.
func New(cfg Config) *Discoverer {
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 1 << 20
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(cfg.MaxBodySize),
	)
	c.WithTransport(probe.NewTransport())
	return &Discoverer{cfg: cfg, base: c}
}

// Discover returns the absolute URL of the best icon the homepage declares,
// falling back to /favicon.ico when the page loads but declares none.
func (d *Discoverer) Discover(ctx context.Context, domain string) (string, error) {
	collector := d.base.Clone()
	if d.cfg.UserAgent != "" {
		collector.UserAgent = d.cfg.UserAgent
	}
	collector.SetRequestTimeout(d.cfg.Timeout)

	var (
		found    iconSet
		fetchErr error
	)
	d.configureHooks(collector, &found, &fetchErr)

	home := d.cfg.Scheme + "://" + domain + "/"
	if err := runCollector(ctx, collector, home, &fetchErr); err != nil {
		return "", err
	}
	if best := found.best(); best != "" {
		return best, nil
	}
	return d.cfg.Scheme + "://" + domain + "/favicon.ico", nil
}

func (d *Discoverer) configureHooks(hooks collectorHooks, found *iconSet, fetchErr *error) {
	hooks.OnHTML("link[rel][href]", func(e *colly.HTMLElement) {
		href := e.Request.AbsoluteURL(strings.TrimSpace(e.Attr("href")))
		if href == "" {
			return
		}
		found.add(e.Attr("rel"), href)
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= http.StatusBadRequest {
			*fetchErr = fmt.Errorf("homepage status %d: %w", r.StatusCode, ErrNoIcon)
			return
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("icon discovery canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("icon discovery failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("icon discovery visit: %w", err)
		}
		return nil
	}
}

// iconSet ranks declared icons: rel=icon beats shortcut icon beats apple-touch-icon.
type iconSet struct {
	icon, shortcut, touch string
}

func (s *iconSet) add(rel, href string) {
	tokens := strings.Fields(strings.ToLower(rel))
	for _, tok := range tokens {
		switch tok {
		case "icon":
			if len(tokens) == 1 && s.icon == "" {
				s.icon = href
			} else if s.shortcut == "" {
				s.shortcut = href
			}
			return
		case "apple-touch-icon", "apple-touch-icon-precomposed":
			if s.touch == "" {
				s.touch = href
			}
			return
		}
	}
}

func (s *iconSet) best() string {
	switch {
	case s.icon != "":
		return s.icon
	case s.shortcut != "":
		return s.shortcut
	default:
		return s.touch
	}
}
