// Package api hosts the HTTP server and middleware for operator access.
// Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the stored crawl cursor.
//   - POST /v1/runs to start a pipeline pass, GET /v1/runs/last for its report.
package api
