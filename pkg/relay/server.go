// Package relay terminates the Anthropic Messages API and re-originates
// requests against configured downstream providers.
package relay

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modelrelay/modelrelay/pkg/config"
	"github.com/modelrelay/modelrelay/pkg/router"
)

// configSnapshot pairs a config with the router compiled from it, so one
// request never sees a config and a router from different generations.
type configSnapshot struct {
	cfg    *config.Config
	router *router.Router
}

// Server is the proxy HTTP server. Config reloads swap the snapshot
// atomically; in-flight requests keep the one they started with.
type Server struct {
	snapshot atomic.Pointer[configSnapshot]
	cache    *ClientCache
	http     *http.Server
}

// NewServer builds a server for the initial config.
func NewServer(cfg *config.Config) *Server {
	s := &Server{cache: NewClientCache()}
	s.SetConfig(cfg)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/v1/messages", s.handleMessages)
	r.Post("/messages", s.handleMessages)

	s.http = &http.Server{
		Addr:    cfg.Listen,
		Handler: r,
	}
	return s
}

// Handler exposes the routing tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// SetConfig installs a new config snapshot and drops cached clients built
// from the old one.
func (s *Server) SetConfig(cfg *config.Config) {
	s.snapshot.Store(&configSnapshot{cfg: cfg, router: router.New(cfg)})
	s.cache.Reset()
}

// Config returns the current snapshot's config.
func (s *Server) Config() *config.Config {
	return s.snapshot.Load().cfg
}

// Run serves until the context is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	slog.Info("shutting down")
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}
