// Package api implements the gateway's HTTP status surface.
//
// This package provides:
//   - GET /api/v1/health: supervisor state snapshot (200 when Running, 503 otherwise)
//   - GET /api/v1/metrics: Prometheus exposition of gateway counters
//   - Middleware stack (request ID, logging, recovery)
//
// The server only reads supervisor state; it never drives the gateway.
package api
