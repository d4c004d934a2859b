// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/screenshots/{domain} for previews, plus its /history.
//   - DELETE /v1/screenshots/cache to sweep expired cache entries.
//   - GET /renders/* for locally stored headless renders.
package api
