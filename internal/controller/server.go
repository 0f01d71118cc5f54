// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"docplane/internal/controller/handlers"
	"docplane/internal/controller/middleware"
)

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// New creates a new controller server. metrics may be nil.
func New(addr string, store handlers.StoreFactory, engine handlers.Engine, metrics http.Handler, logger *slog.Logger, limiter *middleware.RateLimiter) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	h := handlers.New(store, engine, logger)
	if limiter == nil {
		limiter = middleware.NewRateLimiter()
	}
	limited := limiter.Middleware()

	mux := http.NewServeMux()

	// Probes and metrics stay outside the rate limit
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	mux.Handle("POST /projects/{id}/processes", limited(http.HandlerFunc(h.CreateProcess)))
	mux.Handle("GET /processes/{id}", limited(http.HandlerFunc(h.GetProcess)))
	mux.Handle("GET /processes/{id}/steps", limited(http.HandlerFunc(h.ListProcessSteps)))
	mux.Handle("POST /processes/{id}/stop", limited(http.HandlerFunc(h.StopProcess)))
	mux.Handle("POST /processes/{id}/resume", limited(http.HandlerFunc(h.ResumeProcess)))
	mux.Handle("POST /assets/{id}/preprocess", limited(http.HandlerFunc(h.PreprocessAsset)))

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      middleware.RequestID(logger)(mux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
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
