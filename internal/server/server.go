package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ternarybob/ramus/internal/app"
)

// Server owns the HTTP listener, the route table, and the middleware chain
type Server struct {
	app    *app.App
	router *http.ServeMux
	server *http.Server

	limitersMu       sync.Mutex
	limiters         map[string]*clientLimiter
	lastLimiterSweep time.Time
}

// New creates the server for the given app
func New(application *app.App) *Server {
	s := &Server{
		app:              application,
		limiters:         make(map[string]*clientLimiter),
		lastLimiterSweep: time.Now(),
	}

	s.router = s.setupRoutes()
	s.server = &http.Server{
		Addr:              s.addr(),
		Handler:           s.withConditionalMiddleware(s.router),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

func (s *Server) addr() string {
	return fmt.Sprintf("%s:%d", s.app.Config.Server.Host, s.app.Config.Server.Port)
}

// Start blocks serving requests until Shutdown or a listener error
func (s *Server) Start() error {
	s.app.Logger.Info().
		Str("address", s.addr()).
		Str("executor", s.app.Config.Executor.Provider).
		Bool("rate_limited", s.app.Config.Server.RateLimit > 0).
		Msg("Job orchestrator API listening")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown drains in-flight requests until ctx expires
func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Logger.Info().Msg("Shutting down HTTP server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.app.Logger.Info().Msg("HTTP server stopped")
	return nil
}
