// Package ops serves the operational HTTP surface: liveness, readiness,
// and Prometheus metrics. It carries no notification traffic.
package ops

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

// Server exposes /healthz, /readyz and /metrics.
type Server struct {
	addr   string
	ready  func() bool
	logger *log.Logger

	// Middleware wraps the router when set; used for request tracing.
	Middleware func(http.Handler) http.Handler
}

// NewServer returns a Server listening on addr. ready reports whether the
// monitor has finished identity resolution.
func NewServer(addr string, ready func() bool, logger *log.Logger) *Server {
	return &Server{addr: addr, ready: ready, logger: logger}
}

// Handler builds the ops router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if s.ready() {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "identity not yet resolved", http.StatusServiceUnavailable)
	})
	r.Handle("/metrics", promhttp.Handler())

	if s.Middleware != nil {
		return s.Middleware(r)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{Addr: s.addr, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "ops: http shutdown error: %v\n", err)
		}
	}()

	s.logger.Printf("INFO ops endpoint listening on %s", s.addr)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ops server: %w", err)
	}
	return nil
}
