// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz for liveness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/profiles/{profile_id}/extractions to queue (or, with
//     ?sync=true, run) an extraction.
//   - GET /v1/jobs/{job_id} for job status.
//   - GET /v1/profiles/{profile_id}/records and PUT .../aliases for results
//     and alias confirmation.
//   - POST /v1/profiles/{profile_id}/schedules, GET /v1/schedules and
//     DELETE /v1/schedules/{schedule_id} for recurring runs.
package api
