// Package core provides the API chassis for the crowdpark service. It
// builds a chi router that serves standard HTTP (local and container
// deployments, and AWS Lambda behind an adapter), and enforces cross-cutting
// concerns (security headers, logging, metrics, API key auth, error
// formatting) before requests reach the prediction handlers.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"crowdpark/internal/config"
)

// MetricsCollector defines the interface for recording API telemetry.
type MetricsCollector interface {
	// RecordRequest records API request metrics including latency and count.
	// endpoint is the matched route pattern, not the raw path.
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// Server holds the dependencies shared by middleware and handlers.
// Fields left nil disable the corresponding middleware.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Metrics       MetricsCollector
	Authenticator Authenticator
	HealthProbes  []HealthProbe

	// V1RouteRegistrars mount domain handlers under /v1. They are populated
	// by the entry point so core never imports handler packages.
	V1RouteRegistrars []func(chi.Router)

	// ShutdownHooks run in order during Shutdown (pool close, metric flush).
	ShutdownHooks []func(context.Context) error

	router *chi.Mux
}

// NewServer initializes the router and validator. Routes are mounted
// separately via MountRoutes so tests can customise registration.
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
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown runs every shutdown hook, continuing past failures, and returns
// the joined errors.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var errs []error
	for _, hook := range s.ShutdownHooks {
		if err := hook(ctx); err != nil {
			s.Logger.Error("shutdown hook failed", "error", err)
			errs = append(errs, err)
		}
	}

	s.Logger.Info("server shutdown complete")
	return errors.Join(errs...)
}
