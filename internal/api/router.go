package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	gateway "github.com/nerrad567/opcua-mqtt-gateway/internal/bridges/opcua"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	return r
}

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	gateway.Status
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// handleHealth reports the supervisor snapshot. Only Running is healthy.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.status.Status()

	code := http.StatusOK
	if st.State != gateway.StateRunning {
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, healthResponse{
		Status:        st,
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
}
