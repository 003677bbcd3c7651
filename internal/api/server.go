package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/workshop-mailer/internal/config"
	"github.com/ignite/workshop-mailer/internal/service/distribution"
	"github.com/ignite/workshop-mailer/internal/service/users"
	"github.com/ignite/workshop-mailer/internal/service/workshops"
)

// Deps are the services the HTTP layer drives.
type Deps struct {
	Users     *users.Service
	Workshops *workshops.Service
	Engine    *distribution.Engine
	Health    *HealthChecker
	Inbound   config.InboundConfig
}

// Server represents the API server
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	router := SetupRoutes(NewHandlers(deps), cfg.AllowedOrigins)
	return &Server{
		config:  cfg,
		handler: router,
		router:  router,
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.server = &http.Server{
		Addr:    s.config.Addr(),
		Handler: s.handler,
		// Routed mail carries attachments, so reads get more room than writes.
		ReadTimeout:       2 * time.Minute,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
