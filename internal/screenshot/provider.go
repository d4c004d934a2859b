package screenshot

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Viewport and timing defaults shared by the built-in providers.
const (
	DefaultWidth           = 400
	DefaultHeight          = 300
	DefaultProviderTimeout = 4 * time.Second
	DefaultResolveTimeout  = 3 * time.Second
	DefaultFaviconTimeout  = 2 * time.Second
)

// Built-in provider URL templates. Placeholders: {domain}, {url} (the
// query-escaped https URL of the domain), {width}, {height}.
const (
	ThumIOTemplate    = "https://image.thum.io/get/width/{width}/crop/{height}/wait/2/https://{domain}"
	MShotsTemplate    = "https://s.wordpress.com/mshots/v1/{url}?w={width}&h={height}"
	MicrolinkTemplate = "https://api.microlink.io/?url={url}&screenshot=true&meta=false&embed=screenshot.url" +
		"&viewport.width={width}&viewport.height={height}&waitForTimeout=1000"
	FaviconTemplate = "https://www.google.com/s2/favicons?domain={domain}&sz=64"
)

// Provider is one entry of the ordered screenshot chain.
type Provider struct {
	Name     string
	Timeout  time.Duration
	BuildURL func(domain string) string
}

// ProviderSpec is the declarative form of a Provider, as found in config.
type ProviderSpec struct {
	Name        string        `mapstructure:"name"`
	URLTemplate string        `mapstructure:"url_template"`
	Timeout     time.Duration `mapstructure:"-"`
	TimeoutMs   int           `mapstructure:"timeout_ms"`
	// RPS overrides the default request rate for this provider; 0 inherits it.
	RPS float64 `mapstructure:"rps"`
}

// TemplateProvider builds a Provider whose URL comes from tmpl.
func TemplateProvider(name, tmpl string, timeout time.Duration, width, height int) Provider {
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	return Provider{
		Name:    name,
		Timeout: timeout,
		BuildURL: func(domain string) string {
			return ExpandTemplate(tmpl, domain, width, height)
		},
	}
}

// DefaultProviders returns the fixed chain: thum.io, WordPress mShots,
// Microlink. Non-positive dimensions fall back to 400x300.
func DefaultProviders(width, height int) []Provider {
	return []Provider{
		TemplateProvider("thumio", ThumIOTemplate, DefaultProviderTimeout, width, height),
		TemplateProvider("mshots", MShotsTemplate, DefaultProviderTimeout, width, height),
		TemplateProvider("microlink", MicrolinkTemplate, DefaultProviderTimeout, width, height),
	}
}

// ProvidersFromSpecs converts config entries into a chain, keeping order.
// An empty list yields DefaultProviders at the given viewport.
func ProvidersFromSpecs(specs []ProviderSpec, width, height int) []Provider {
	if len(specs) == 0 {
		return DefaultProviders(width, height)
	}
	out := make([]Provider, 0, len(specs))
	for _, spec := range specs {
		timeout := spec.Timeout
		if timeout <= 0 && spec.TimeoutMs > 0 {
			timeout = time.Duration(spec.TimeoutMs) * time.Millisecond
		}
		out = append(out, TemplateProvider(spec.Name, spec.URLTemplate, timeout, width, height))
	}
	return out
}

// ExpandTemplate substitutes the provider placeholders for domain.
func ExpandTemplate(tmpl, domain string, width, height int) string {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	r := strings.NewReplacer(
		"{domain}", domain,
		"{url}", url.QueryEscape("https://"+domain),
		"{width}", strconv.Itoa(width),
		"{height}", strconv.Itoa(height),
	)
	return r.Replace(tmpl)
}
