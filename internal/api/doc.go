// Package api hosts the HTTP control surface of the crawler service.
// Notable routes:
//   - GET|POST /{resource}/start and /{resource}/stop to control a crawl.
//   - GET /{resource}/status, /{resource}/count and /status for progress.
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/runs and /api/runs/{run_id} for run history via the
//     store.RunRepository interface.
package api
