package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/madoguchi/internal/ratelimit"
)

// Server is the Madoguchi HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Handlers returns the underlying Handlers for access to SeedAdmin etc.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Config holds all dependencies and configuration for creating a Server.
// Limiter is optional (nil = no rate limiting).
type Config struct {
	Handlers *Handlers
	Limiter  ratelimit.Limiter
	Logger   *slog.Logger

	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New creates a new HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := cfg.Handlers

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Credential endpoints are limited by client IP, everything else by the
	// authenticated username.
	authRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc)
	userRL := ratelimit.Middleware(cfg.Limiter, userKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Credential exchange (no auth required, rate limited by IP).
	mux.Handle("POST /api/auth/register", authRL(http.HandlerFunc(h.HandleRegister)))
	mux.Handle("POST /api/auth/login", authRL(http.HandlerFunc(h.HandleLogin)))

	// Chat and history (any authenticated user, rate limited).
	mux.Handle("POST /api/chat", userRL(http.HandlerFunc(h.HandleChat)))
	mux.Handle("GET /api/history", userRL(http.HandlerFunc(h.HandleHistory)))

	// Human-in-the-loop review (reviewer roles only).
	mux.Handle("GET /api/hitl/pending", requireReviewer(http.HandlerFunc(h.HandleListPending)))
	mux.Handle("GET /api/hitl/escalations/{id}", requireReviewer(http.HandlerFunc(h.HandleGetEscalation)))
	mux.Handle("POST /api/hitl/escalations/{id}/approve", requireReviewer(http.HandlerFunc(h.HandleApprove)))
	mux.Handle("POST /api/hitl/escalations/{id}/reject", requireReviewer(http.HandlerFunc(h.HandleReject)))
	mux.Handle("POST /api/hitl/escalations/{id}/edit", requireReviewer(http.HandlerFunc(h.HandleEdit)))
	mux.Handle("POST /api/hitl/escalations/{id}/resolve", requireReviewer(http.HandlerFunc(h.HandleResolve)))
	mux.Handle("GET /api/hitl/stats", requireReviewer(http.HandlerFunc(h.HandleHITLStats)))

	// Monitoring (reviewer roles only).
	mux.Handle("GET /api/monitoring/metrics", requireReviewer(http.HandlerFunc(h.HandleMetrics)))
	mux.Handle("GET /api/monitoring/traces", requireReviewer(http.HandlerFunc(h.HandleListTraces)))
	mux.Handle("GET /api/monitoring/traces/{trace_id}", requireReviewer(http.HandlerFunc(h.HandleGetTrace)))
	mux.Handle("GET /api/monitoring/dashboard", requireReviewer(http.HandlerFunc(h.HandleDashboard)))

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(h.jwtMgr, handler)
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
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// userKeyFunc extracts the authenticated username for rate limiting.
// Reviewer roles are exempt.
func userKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	if claims.Role.CanReview() {
		return ""
	}
	return "user:" + claims.Username
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
