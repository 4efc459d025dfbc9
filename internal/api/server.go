package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/broadcast/internal/config"
)

// Server wraps the HTTP listener.
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	server  *http.Server
}

// NewServer builds the router from deps.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	if len(deps.AllowedOrigins) == 0 {
		deps.AllowedOrigins = cfg.AllowedOrigins
	}
	h := SetupRoutes(deps)
	return &Server{
		config:  cfg,
		handler: h,
		// The write timeout must cover a full send batch.
		server: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           h,
			ReadTimeout:       30 * time.Second,
			ReadHeaderTimeout: 15 * time.Second,
			WriteTimeout:      cfg.WriteTimeout(),
			IdleTimeout:       120 * time.Second,
		},
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
