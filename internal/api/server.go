package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/wonny/settle/pkg/config"
	"github.com/wonny/settle/pkg/logger"
)

// Server wraps the HTTP server for the settlement API. The write
// timeout is generous because a compute request does live upstream
// fetches before responding.
type Server struct {
	httpServer *http.Server
	logger     *logger.Logger
	port       string
}

// New creates the API server around a configured router
func New(cfg *config.Config, log *logger.Logger, router http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         ":" + cfg.Port,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: log,
		port:   cfg.Port,
	}
}

// Start blocks serving requests until Shutdown is called
func (s *Server) Start() error {
	s.logger.WithField("port", s.port).Info("Starting settlement API server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down settlement API server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	return nil
}
