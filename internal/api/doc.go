// Package api hosts the optional status server of a running crawl:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the live crawl snapshot.
package api
