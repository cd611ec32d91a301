// Package api hosts the HTTP server, middleware, and REST handlers.
// Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/sites to register a site; GET /v1/sites to list them.
//   - GET /v1/sites/{id} for a site and its check history.
//   - POST /v1/sites/{id}/checks to run a check now.
package api
