// Package core provides the HTTP chassis for planguard: a chi router with the
// cross-cutting middleware (recovery, request ids, logging, metrics, CORS,
// compression, identity) applied before requests reach domain handlers.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"planguard/internal/config"
	"planguard/internal/metrics"
)

// RouteRegistrar mounts a group of routes. Handler packages provide these so
// core does not import them.
type RouteRegistrar func(r chi.Router)

// Server holds the router and the dependencies shared by all routes.
type Server struct {
	Config       *config.Config
	Logger       *slog.Logger
	Validator    *Validator
	Metrics      metrics.Recorder
	HealthProbes []HealthProbe

	// PublicRouteRegistrars mount at the root without identity, e.g. the
	// provider webhook. V1RouteRegistrars mount under /v1.
	PublicRouteRegistrars []RouteRegistrar
	V1RouteRegistrars     []RouteRegistrar

	// MetricsHandler, when set, is served at GET /metrics.
	MetricsHandler http.Handler

	// Closers are closed in order by Shutdown.
	Closers []io.Closer

	router *chi.Mux
}

// NewServer validates the critical dependencies and prepares an empty router.
// Callers add registrars and then call MountRoutes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		Metrics:   metrics.Nop{},
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown closes every registered closer and reports all failures.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	var errs []error
	for _, c := range s.Closers {
		if err := c.Close(); err != nil {
			s.Logger.ErrorContext(ctx, "error closing resource", "error", err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("closing resources: %w", err)
	}

	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
