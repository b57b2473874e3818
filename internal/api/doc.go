// Package api hosts the read-only ops HTTP server. Routes:
//   - GET /healthz and /readyz for orchestrator probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/sources, /v1/sources/{source_id} and
//     /v1/sources/{source_id}/captures for per-source status and archive listings.
//   - GET /v1/cycles for the scheduler cycle summary.
//
// Archived images themselves are never served.
package api
