/*
Copyright © 2025 ALESSIO TONIOLO

server.go wires the backend HTTP server: routing, CORS, metrics middleware,
static frontend serving and graceful shutdown. Handlers live in handlers.go.
*/
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/atoniolo76/xcodeagent/pkg/config"
	"github.com/atoniolo76/xcodeagent/pkg/monitor"
	"github.com/atoniolo76/xcodeagent/pkg/pool"
	"github.com/atoniolo76/xcodeagent/pkg/session"
)

// Server is the backend API server.
type Server struct {
	config    *config.Config
	pool      *pool.Pool
	store     *session.Store
	metrics   *monitor.Metrics
	collector *monitor.Collector
	started   time.Time
}

// New assembles a server from its parts.
func New(cfg *config.Config, p *pool.Pool, store *session.Store, metrics *monitor.Metrics, collector *monitor.Collector) *Server {
	return &Server{
		config:    cfg,
		pool:      p,
		store:     store,
		metrics:   metrics,
		collector: collector,
		started:   time.Now(),
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(corsMiddleware)
	r.Use(s.metrics.Middleware)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v3", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/chat", s.handleChat)
		r.Post("/generate-code", s.handleGenerateCode)
		r.Post("/analyze-code", s.handleAnalyzeCode)
		r.Get("/sessions/{session_id}", s.handleGetSession)
		r.Get("/performance", s.handlePerformance)
	})

	r.Handle("/metrics", s.metrics.Handler())
	r.Get("/metrics/summary", s.handleMetricsSummary)
	r.Get("/metrics/health", s.handleMetricsHealth)

	r.Get("/ws/{connection_id}", s.handleWebSocket)

	s.mountStatic(r)

	return r
}

// mountStatic serves the bundled frontend when the directory exists.
func (s *Server) mountStatic(r chi.Router) {
	dir := s.config.StaticDir
	if dir == "" {
		return
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return
	}

	fileServer := http.StripPrefix("/static/", http.FileServer(http.Dir(dir)))
	r.Get("/static/*", fileServer.ServeHTTP)
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.ServeFile(w, req, filepath.Join(dir, "index.html"))
	})
	log.Printf("[Server] Serving static frontend from %s", dir)
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.config.Addr(),
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Server] Backend listening on %s (production mode: %v)", s.config.Addr(), s.config.ProductionMode)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Printf("[Server] Shutdown complete")
	return nil
}

// corsMiddleware answers preflight requests and opens the API to browser
// clients on any origin, matching the frontend deployment model where the
// UI may be served from a different host.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
