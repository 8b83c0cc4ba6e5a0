// Package api hosts the HTTP server, middleware, and handlers for operator
// access. Notable routes:
//   - GET /healthz for liveness probes and GET /metrics for Prometheus.
//   - POST /trigger starts a background run; it requires the shared token.
//   - GET /status reports the process-lifetime run state.
//   - GET /api/records, /api/digest/{category} and /api/history/... browse
//     stored content and artifacts.
//   - POST /api/cache/evict clears the volatile artifact tier.
package api
