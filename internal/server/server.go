package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/continuumhq/continuum/internal/config"
	"github.com/continuumhq/continuum/internal/ratelimit"
)

// Server is the Continuum HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Config holds server construction inputs.
type Config struct {
	Handlers *Handlers
	Limiter  ratelimit.Limiter // nil disables rate limiting
	App      config.Config
	Logger   *slog.Logger
}

// New builds the route table and middleware chain.
func New(cfg Config) *Server {
	h := cfg.Handlers
	mux := http.NewServeMux()

	// Agent-context surface.
	mux.HandleFunc("GET /api/agent/summary", h.HandleAgentSummary)
	mux.HandleFunc("POST /api/agent/context", h.HandleAgentContext)
	mux.HandleFunc("GET /api/agent/context/{name}", h.HandleAgentEntityContext)
	mux.HandleFunc("POST /api/agent/check", h.HandleAgentCheck)
	mux.HandleFunc("POST /api/agent/remember", requireUser(h.HandleAgentRemember))

	// Decision CRUD and bulk import.
	mux.HandleFunc("GET /api/decisions", h.HandleListDecisions)
	mux.HandleFunc("GET /api/decisions/{id}", h.HandleGetDecision)
	mux.HandleFunc("POST /api/decisions", requireUser(h.HandleCreateDecision))
	mux.HandleFunc("PUT /api/decisions/{id}", requireUser(h.HandleUpdateDecision))
	mux.HandleFunc("DELETE /api/decisions/{id}", requireUser(h.HandleDeleteDecision))
	mux.HandleFunc("POST /api/decisions/bulk", requireUser(h.HandleBulkImport))

	// Entity CRUD.
	mux.HandleFunc("GET /api/entities", h.HandleListEntities)
	mux.HandleFunc("GET /api/entities/{id}", h.HandleGetEntity)
	mux.HandleFunc("POST /api/entities", requireUser(h.HandleCreateEntity))
	mux.HandleFunc("PUT /api/entities/{id}", requireUser(h.HandleUpdateEntity))
	mux.HandleFunc("DELETE /api/entities/{id}", requireUser(h.HandleDeleteEntity))

	// Search.
	mux.HandleFunc("GET /api/search", h.HandleSearch)

	// Capture sessions and log ingest.
	mux.HandleFunc("POST /api/sessions", requireUser(h.HandleCreateSession))
	mux.HandleFunc("POST /api/sessions/{id}/messages", requireUser(h.HandleSessionMessage))
	mux.HandleFunc("POST /api/sessions/{id}/complete", requireUser(h.HandleCompleteSession))
	mux.HandleFunc("POST /api/ingest/log", requireUser(h.HandleIngestLog))

	// Git integration.
	mux.HandleFunc("POST /api/git/commit", requireUser(h.HandleGitCommit))
	mux.HandleFunc("GET /api/git/pr-context", h.HandleGitPRContext)

	// Analytics.
	mux.HandleFunc("GET /api/analytics/dormant-alternatives", h.HandleDormantAlternatives)

	// Notifications.
	mux.HandleFunc("GET /api/notifications", h.HandleListNotifications)
	mux.HandleFunc("POST /api/notifications/{id}/read", requireUser(h.HandleMarkNotificationRead))
	mux.HandleFunc("POST /api/notifications/read-all", requireUser(h.HandleMarkAllNotificationsRead))
	mux.HandleFunc("GET /ws/notifications", h.HandleNotificationsWS)

	// Health (no auth, no rate limit, no body cap).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain, outermost first:
	// request id → security headers → tracing → logging → auth → rate limit →
	// body cap → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = bodyLimitMiddleware(cfg.App.MaxRequestBodyBytes, handler)
	if cfg.Limiter != nil {
		handler = rateLimitMiddleware(cfg.Limiter, cfg.Logger, handler)
	}
	handler = authMiddleware(cfg.App, cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.App.Port),
			Handler:      handler,
			ReadTimeout:  cfg.App.ReadTimeout,
			WriteTimeout: cfg.App.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// bodyLimitMiddleware caps request body size; oversized reads fail inside the
// handlers with MaxBytesError.
func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && maxBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// Handler exposes the root handler for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Start serves HTTP until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("server: listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	return s.httpServer.Shutdown(ctx)
}
