// Package api hosts the HTTP server, middleware, and handlers. Notable routes:
//   - POST /api/scrape runs a crawl and returns the discovered links and counts.
//   - GET /api/scrape/progress?url= streams progress snapshots as server-sent events.
//   - GET /api/progress/{tracker_id} returns one snapshot.
//   - GET /api/download/{job_id} serves the finished archive.
//   - POST /cancel/{tracker_id} cancels a running crawl.
//   - GET /healthz, /readyz for probes and /metrics for Prometheus.
package api
