package metric

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atharva20-coder/swoopin-sub002/errors"
)

// Server exposes the registry over HTTP for Prometheus scraping.
type Server struct {
	addr     string
	path     string
	registry *Registry
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates a metrics server bound to addr (host:port) serving the
// registry at path.
func NewServer(addr, path string, registry *Registry, logger *slog.Logger) *Server {
	if path == "" {
		path = "/metrics"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     addr,
		path:     path,
		registry: registry,
		logger:   logger.With("component", "metrics"),
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.WrapFatal(fmt.Errorf("listen on %s: %w", s.addr, err), "metric", "Start", "bind")
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("metrics server started", "addr", listener.Addr().String(), "path", s.path)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "metric", "Stop", "shutdown")
	}
	return nil
}
