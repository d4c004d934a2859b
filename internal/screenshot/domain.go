package screenshot

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// NormalizeDomain reduces user input such as "https://Example.cl/path" to a
// bare lowercase host ("example.cl").
func NormalizeDomain(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrInvalidDomain
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDomain, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", ErrInvalidDomain
	}
	if h, _, splitErr := net.SplitHostPort(host); splitErr == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" || strings.ContainsAny(host, " /\\") {
		return "", ErrInvalidDomain
	}
	return host, nil
}

func describe(domain string) string {
	return fmt.Sprintf("Vista previa no disponible para %s. Visita el sitio para conocer sus planes de hosting.", domain)
}
