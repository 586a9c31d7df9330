// Package api exposes a local debug HTTP endpoint for a running scrape.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jfaulkner/pinharvest/internal/metrics"
)

// StatusFunc returns a point-in-time snapshot of the current run. The server
// never holds references into pipeline internals; it only calls this.
type StatusFunc func() any

// Server serves /healthz, /statusz and /metrics on localhost while a scrape
// runs. It is only started with --debug.
type Server struct {
	router chi.Router
	logger *zap.Logger
	status StatusFunc
	port   int
}

// NewServer constructs a Server with routes wired.
func NewServer(port int, status StatusFunc, logger *zap.Logger) *Server {
	s := &Server{
		logger: logger,
		status: status,
		port:   port,
	}
	r := chi.NewRouter()
	r.Use(requestMetrics)
	r.Get("/healthz", s.healthz)
	r.Get("/statusz", s.statusz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("debug server listening", zap.String("addr", srv.Addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown debug server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("debug server: %w", err)
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) statusz(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "idle"})
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
