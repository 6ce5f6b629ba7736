// Package server assembles the tonearm HTTP surface: the recall routes, the
// health endpoints, and the Prometheus scrape endpoint, all wrapped in the
// observability middleware.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tonearm/tonearm/internal/config"
	"github.com/tonearm/tonearm/internal/health"
	"github.com/tonearm/tonearm/internal/observe"
	"github.com/tonearm/tonearm/internal/router"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Server owns the HTTP listener lifecycle.
type Server struct {
	cfg     config.ServerConfig
	httpSrv *http.Server
	logger  *slog.Logger
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New assembles the server: recall routes, health probes, /metrics, and the
// tracing/metrics middleware around all of it.
func New(cfg config.ServerConfig, rt *router.Router, h *health.Handler, m *observe.Metrics, opts ...Option) *Server {
	s := &Server{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	rt.Register(mux)
	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           observe.Middleware(m)(mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Handler exposes the assembled handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run serves until ctx is cancelled, then drains in-flight requests for up to
// the shutdown timeout. A clean shutdown returns nil.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server: listening", "addr", s.cfg.ListenAddr, "tls", s.cfg.TLS != nil)
		if s.cfg.TLS != nil {
			errCh <- s.httpSrv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
			return
		}
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("server: stopped")
	return nil
}
