// Package httpserver provides the chi router and the server lifecycle shared
// by every cloudmesh service.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	loggingpkg "github.com/drblury/cloudmesh/internal/runtime/logging"
)

// ShutdownTimeout bounds graceful shutdown of in-flight requests.
const ShutdownTimeout = 10 * time.Second

// RouterOptions tunes NewRouter.
type RouterOptions struct {
	// Metrics mounts /metrics backed by Gatherer (prometheus.DefaultGatherer when nil).
	Metrics  bool
	Gatherer prometheus.Gatherer
}

// NewRouter returns a chi router with request ids, panic recovery and request
// logging installed.
func NewRouter(log loggingpkg.ServiceLogger, opts RouterOptions) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(loggingpkg.RequestLogger(log))

	if opts.Metrics {
		gatherer := opts.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Text answers body as text/plain.
func Text(w http.ResponseWriter, r *http.Request, body string) {
	render.PlainText(w, r, body)
}

// Server runs an http.Server until its context ends.
type Server struct {
	addr string
	srv  *http.Server
	log  loggingpkg.ServiceLogger
}

// New creates a server for handler listening on addr.
func New(addr string, handler http.Handler, log loggingpkg.ServiceLogger) *Server {
	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Addr formats host and port as a listen address.
func Addr(host string, port int) string {
	return net.JoinHostPort(host, fmt.Sprint(port))
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info("Starting HTTP server", loggingpkg.LogFields{"address": ln.Addr().String()})

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.log.Error("HTTP server shutdown failed", err, loggingpkg.LogFields{"address": ln.Addr().String()})
		return err
	}
	s.log.Info("HTTP server stopped", loggingpkg.LogFields{"address": ln.Addr().String()})
	return nil
}
