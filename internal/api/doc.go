// Package api hosts the read-only HTTP interface over the run ledger.
// Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/runs, /api/runs/{run_id} and /api/runs/{run_id}/pages for
//     browsing past crawls via store.RunRepository.
package api
