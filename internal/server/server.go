package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jediswimmer/ironcurtain/internal/arbiter"
	"github.com/jediswimmer/ironcurtain/internal/auth"
	"github.com/jediswimmer/ironcurtain/internal/matchmaker"
	"github.com/jediswimmer/ironcurtain/internal/storage"
)

// Server is the arbiterd HTTP and WebSocket server.
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

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Broker.
type ServerConfig struct {
	// Required dependencies.
	DB         *storage.DB
	JWTMgr     *auth.JWTManager
	Matchmaker *matchmaker.Matchmaker
	Matches    *arbiter.Manager
	Logger     *slog.Logger

	// Optional dependencies (nil = disabled).
	Broker *Broker

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64
	CORSAllowedOrigins  []string // Allowed origins for CORS; ["*"] permits all.
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(cfg.DB, cfg.JWTMgr, cfg.Matchmaker, cfg.Matches, cfg.Logger)

	mux := http.NewServeMux()

	// Agent registration. Like every /v1/ route except those in noAuthPaths,
	// it sits behind the bearer-token gate; it records the identity that
	// the persistent-channel api_key is later checked against.
	mux.HandleFunc("POST /v1/agents", h.RegisterAgent)

	// Queue management (spec §6 "register-queue, leave-queue, query-queue").
	// An agent acts only on its own queue membership — there is no admin
	// override in this service.
	mux.HandleFunc("POST /v1/queue", h.JoinQueue)
	mux.Handle("DELETE /v1/queue/{agent_id}", requireSelf(http.HandlerFunc(h.LeaveQueue)))
	mux.Handle("GET /v1/queue/{agent_id}", requireSelf(http.HandlerFunc(h.QueryQueue)))
	mux.HandleFunc("GET /v1/queue", h.GlobalQueueStatus)

	// Match listing (spec §6 "list-active-matches, query-match").
	mux.HandleFunc("GET /v1/matches", h.ListActiveMatches)
	mux.HandleFunc("GET /v1/matches/{match_id}", h.QueryMatch)

	// Persistent channels (spec §6): identify-based auth happens on the
	// channel itself, not via the bearer-token gate applied to /v1/.
	mux.HandleFunc("GET /ws/match/{match_id}", h.AgentWebSocket)
	mux.HandleFunc("GET /ws/match/{match_id}/spectate", h.SpectatorWebSocket)

	// Live match/queue event feed for dashboards (spec §5 notification fan-out).
	if cfg.Broker != nil {
		mux.HandleFunc("GET /v1/events", cfg.Broker.ServeHTTP)
	}

	// Health (no auth).
	mux.HandleFunc("GET /health", h.Health)

	// Middleware chain (outermost executes first):
	// request ID → security headers → CORS → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = corsMiddleware(cfg.CORSAllowedOrigins, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  2 * cfg.ReadTimeout, // Prevent accumulation of idle connections.
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handlers returns the underlying Handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
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
