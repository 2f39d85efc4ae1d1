// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"vlem/internal/controller/handlers"
	"vlem/internal/controller/middleware"
)

// Options configures the HTTP layer around the handlers.
type Options struct {
	// APIToken protects every non-probe route. Empty disables auth.
	APIToken string

	// RateLimit is requests per second per client IP; 0 means unlimited.
	RateLimit      float64
	RateLimitBurst int

	// Metrics, when set, is served on GET /metrics.
	Metrics http.Handler

	Logger *slog.Logger
}

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// New creates a new controller server.
func New(addr string, deps handlers.Dependencies, opts Options) *Server {
	if deps.Logger == nil {
		deps.Logger = opts.Logger
	}
	h := handlers.New(deps)

	authMW := middleware.BearerAuth(opts.APIToken)
	rateMW := middleware.NewRateLimiter(opts.RateLimit, opts.RateLimitBurst).Middleware()
	protect := func(fn http.HandlerFunc) http.Handler {
		return rateMW(authMW(fn))
	}

	mux := http.NewServeMux()

	// Probes stay public so orchestrators can reach them.
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	mux.Handle("GET /templates", protect(h.ListTemplates))
	mux.Handle("POST /templates/{name}/labs", protect(h.CreateLab))

	mux.Handle("GET /labs", protect(h.ListLabs))
	mux.Handle("GET /labs/{id}", protect(h.GetLab))
	mux.Handle("DELETE /labs/{id}", protect(h.DeleteLab))
	mux.Handle("GET /labs/{id}/logs", protect(h.GetLabLogs))
	mux.Handle("GET /labs/{id}/containers", protect(h.GetLabContainers))

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      middleware.RequestID(middleware.AccessLog(logger)(mux)),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
