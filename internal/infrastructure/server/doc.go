// Package server wires the kcore admin API: gin routes over the kernel,
// Prometheus exposition, tracing, CORS and rate limiting middleware.
//
// Routes:
//   - GET  /, /health
//   - GET  /v1/stats, /v1/traces
//   - GET  /v1/pipes, POST /v1/pipes, DELETE /v1/pipes/:name
//   - POST /v1/pipes/:name/write, GET /v1/pipes/:name/read
//   - POST /v1/pipes/:name/flush, GET /v1/pipes/:name/tap (WebSocket)
//   - GET  /v1/workq, POST /v1/workq/echo
//   - GET  /metrics, /metrics/json
package server
