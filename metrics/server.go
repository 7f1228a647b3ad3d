package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/justapithecus/flume/log"
)

// Server exposes a container's metrics over HTTP: a Prometheus text
// exposition at /metrics and a liveness probe at /health. Each
// container owns its own server and registry; nothing is process-global.
type Server struct {
	host     string
	port     int
	logger   *log.Logger
	registry *prometheus.Registry

	srv  *http.Server
	ln   net.Listener
	done chan struct{}
}

// NewServer creates a metrics server for the given collector.
func NewServer(host string, port int, collector *Collector, logger *log.Logger) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(NewExporter(collector))

	return &Server{
		host:     host,
		port:     port,
		logger:   logger,
		registry: registry,
	}
}

// Handler returns the HTTP handler (useful for tests and embedding).
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","service":"flume-metrics"}`))
	})
	return r
}

// Start binds the listener and serves in a background goroutine.
// Returns once the listener is bound, so scrapes cannot race startup.
func (s *Server) Start() error {
	if s.srv != nil {
		return nil // already running
	}

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics server listen on %s: %w", addr, err)
	}

	s.ln = ln
	s.srv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", map[string]any{"error": err.Error()})
		}
	}()

	s.logger.Debug("metrics server started", map[string]any{"addr": ln.Addr().String()})
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop shuts the server down, waiting up to the context deadline for
// in-flight scrapes. Idempotent.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	s.srv = nil
	s.ln = nil
	return err
}
