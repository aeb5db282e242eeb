// Package api hosts the read-only HTTP query server over the harvested
// corpus. Notable routes:
//   - GET /healthz / readyz for Kubernetes health checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/standards, /v1/committees, /v1/certifiers and
//     /v1/training-centers with sector and state filters.
//   - GET /v1/search?q= for accent-insensitive free text search.
//   - GET /v1/stats and /v1/runs for the statistics snapshot and run history.
package api
