package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ============================================================================
// Status server
// ============================================================================
// Optional read-only HTTP surface:
//
//	GET /state    latest StateSnapshot as JSON
//	GET /ws       state_init followed by live change events
//	GET /metrics  prometheus
//
// Nothing here can change brightness; the control loop stays the only writer.
// ============================================================================

// StatusServer serves daemon state to local observers.
type StatusServer struct {
	store    *stateStore
	ws       *stateWS
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// NewStatusServer builds the handlers. hub must be run separately.
func NewStatusServer(store *stateStore, hub *Hub, gatherer prometheus.Gatherer, logger *slog.Logger) *StatusServer {
	return &StatusServer{
		store:    store,
		ws:       &stateWS{hub: hub, store: store, logger: logger},
		gatherer: gatherer,
		logger:   logger,
	}
}

// Handler returns the chi router with all routes mounted.
func (s *StatusServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/state", s.handleState)
	s.ws.Register(r, "/ws")
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *StatusServer) handleState(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.store.Load()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "daemon state not available yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Run listens on addr until ctx is canceled, then shuts the server down
// gracefully.
func (s *StatusServer) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("status server listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *StatusServer) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("status server listening", "addr", ln.Addr().String())

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		// Serve returns http.ErrServerClosed on Shutdown.
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("status server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
