package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	gateway "github.com/nerrad567/opcua-mqtt-gateway/internal/bridges/opcua"
	"github.com/nerrad567/opcua-mqtt-gateway/internal/infrastructure/config"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// StatusSource reports the gateway lifecycle snapshot.
// *gateway.Supervisor satisfies it.
type StatusSource interface {
	Status() gateway.Status
}

// Logger is the logging surface the server needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   Logger
	Status   StatusSource
	Gatherer prometheus.Gatherer
	Version  string
}

// Server is the HTTP status server.
//
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	logger   Logger
	status   StatusSource
	gatherer prometheus.Gatherer
	version  string

	startTime time.Time
	server    *http.Server
	listener  net.Listener
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Status == nil {
		return nil, fmt.Errorf("status source is required")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		status:    deps.Status,
		gatherer:  deps.Gatherer,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start binds the listener and serves in a background goroutine.
// Binding errors (port in use) are returned synchronously.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
