// Package core provides the API chassis for the PitchCraft platform.
// It creates a chi router and enforces cross-cutting concerns -- security,
// logging, identity resolution, and error handling -- before requests reach
// domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pitchcraft/internal/config"
)

// StorageStatus exposes the health of the storage layer to the chassis.
// *store.Failover satisfies this interface.
type StorageStatus interface {
	// Degraded reports whether storage has failed over to the volatile
	// in-memory backend.
	Degraded() bool
	// Ping checks connectivity of the active backend.
	Ping(ctx context.Context) error
}

// Server encapsulates the chassis dependencies for the PitchCraft API,
// allowing for easy injection during testing and distinct configuration for
// different environments.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// Tokens resolves session tokens to account IDs; injected for testability.
	Tokens TokenVerifier

	// Storage reports storage-layer health for the health endpoint.
	Storage StorageStatus

	// V1RouteRegistrars register domain handler routes under /v1. Populated
	// by the application entry point; this indirection avoids import cycles
	// between core and handler packages.
	V1RouteRegistrars []func(chi.Router)

	// WebhookRegistrars register unauthenticated webhook routes outside /v1.
	WebhookRegistrars []func(chi.Router)

	router *chi.Mux
}

// NewServer initializes dependencies, sets up the router, and prepares the
// server for route mounting. The caller is responsible for populating the
// route registrars and calling MountRoutes after construction.
func NewServer(cfg *config.Config, tokens TokenVerifier, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token verifier must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		Tokens:    tokens,
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs a graceful termination of server-owned resources.
// Database pools are owned and closed by the application entry point.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown complete")
	return nil
}
