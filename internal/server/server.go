// Package server implements the HTTP API: finalize, results by share token,
// the admin recompute/training surface, and health.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/typelens-ai/typelens/internal/auth"
	"github.com/typelens-ai/typelens/internal/ratelimit"
	"github.com/typelens-ai/typelens/internal/service/finalize"
	"github.com/typelens-ai/typelens/internal/service/recompute"
	"github.com/typelens-ai/typelens/internal/storage"
)

// Server is the TypeLens HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	// Required dependencies.
	DB          *storage.DB
	JWTMgr      *auth.JWTManager
	FinalizeSvc *finalize.Service
	Logger      *slog.Logger

	// RecomputeSvc may be nil; the admin surface then rejects recompute and
	// training requests.
	RecomputeSvc *recompute.Service

	// Limiter guards the unauthenticated endpoints per client IP.
	// Nil disables rate limiting.
	Limiter ratelimit.Limiter

	// AdminAPIKeyHash is the Argon2id hash of the configured admin key.
	// Empty disables the admin surface.
	AdminAPIKeyHash string

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := &Handlers{
		db:              cfg.DB,
		jwtMgr:          cfg.JWTMgr,
		finalizeSvc:     cfg.FinalizeSvc,
		recomputeSvc:    cfg.RecomputeSvc,
		adminAPIKeyHash: cfg.AdminAPIKeyHash,
		logger:          cfg.Logger,
		version:         cfg.Version,
		maxBodyBytes:    cfg.MaxRequestBodyBytes,
	}

	mux := http.NewServeMux()

	// Per-IP limit on the unauthenticated surface.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	ipRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc)

	// Token exchange for the admin surface (no auth required, rate limited).
	mux.Handle("POST /auth/token", ipRL(http.HandlerFunc(h.HandleAuthToken)))

	// Respondent-facing endpoints. Finalize is unauthenticated: the
	// surrounding product fronts it, and session ids are unguessable.
	mux.Handle("POST /v1/sessions/{session_id}/finalize", ipRL(http.HandlerFunc(h.HandleFinalize)))
	mux.HandleFunc("GET /v1/results/{token}", h.HandleGetResults)

	// Admin surface (JWT required).
	adminOnly := requireAdmin(cfg.JWTMgr)
	mux.Handle("POST /v1/admin/sessions/{session_id}/recompute", adminOnly(http.HandlerFunc(h.HandleRecomputeSession)))
	mux.Handle("POST /v1/admin/recompute", adminOnly(http.HandlerFunc(h.HandleRecomputeBatch)))
	mux.Handle("POST /v1/admin/calibration/train", adminOnly(http.HandlerFunc(h.HandleTrainCalibration)))

	// Health (no auth).
	mux.HandleFunc("GET /healthz", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
