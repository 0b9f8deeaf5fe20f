// Package server exposes the progress of a load over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/ha1tch/csvgraph/pkg/cache"
	"github.com/ha1tch/csvgraph/pkg/config"
	"github.com/ha1tch/csvgraph/pkg/loader"
	"github.com/ha1tch/csvgraph/pkg/models"
	"github.com/ha1tch/csvgraph/pkg/schema"
)

// StatusSource reports the progress of the running load
type StatusSource interface {
	Progress() loader.Progress
}

// Server represents the HTTP status server
type Server struct {
	addr    string
	status  StatusSource
	cache   cache.Cache
	catalog *schema.Catalog
	logger  zerolog.Logger
	router  *chi.Mux
}

// New creates a new server instance. status may be nil when no load runs.
func New(
	addr string,
	status StatusSource,
	c cache.Cache,
	catalog *schema.Catalog,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		addr:    addr,
		status:  status,
		cache:   c,
		catalog: catalog,
		logger:  logger,
		router:  chi.NewRouter(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(10 * time.Second))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/version", s.handleVersion)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/report", s.handleReport)
		r.Get("/catalog", s.handleCatalog)
	})
}

// Serve listens on the configured address until ctx is done, then shuts
// the server down gracefully
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("Starting status server")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Handler returns the HTTP handler (useful for testing)
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request served")
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": config.Version,
	})
}

// handleVersion returns server version
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"version": config.Version,
	})
}

// handleStatus returns the coordinator state and running totals
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		s.writeJSON(w, http.StatusOK, loader.Progress{State: "idle"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.status.Progress())
}

// handleReport returns the last published run report
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		s.writeError(w, http.StatusNotFound, "No report available")
		return
	}

	var report models.Report
	err := cache.GetJSON(r.Context(), s.cache, cache.ReportKey, &report)
	if errors.Is(err, cache.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "No report available")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read report")
		s.writeError(w, http.StatusInternalServerError, "Failed to read report")
		return
	}

	s.writeJSON(w, http.StatusOK, report)
}

// handleCatalog returns the active table classification
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		s.writeError(w, http.StatusNotFound, "No catalog loaded")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodes": s.catalog.NodeTables(),
		"edges": s.catalog.EdgeTables(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	var resp models.ErrorResponse
	resp.Error.Message = message
	resp.Error.Status = status
	s.writeJSON(w, status, resp)
}
