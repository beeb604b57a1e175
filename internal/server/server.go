// Package server provides the chi-based HTTP/SSE surface: agent spawning,
// unary and streaming chat, session management, queue inspection,
// document-agent administration, and the permission grant/deny surface.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/agentvault/agentvaultd/internal/agent"
	"github.com/agentvault/agentvaultd/internal/docscan"
	"github.com/agentvault/agentvaultd/internal/event"
	"github.com/agentvault/agentvaultd/internal/orchestrator"
	"github.com/agentvault/agentvaultd/internal/permission"
	"github.com/agentvault/agentvaultd/internal/queue"
	"github.com/agentvault/agentvaultd/internal/session"
	"github.com/agentvault/agentvaultd/internal/vault"
)

// Config holds everything the HTTP surface needs to serve: the
// collaborators it delegates to, and the bind/security knobs from
// internal/config.
type Config struct {
	Host            string
	Port            int
	APIKey          string
	CORSOrigins     []string
	MaxMessageBytes int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration

	Orchestrator *orchestrator.Orchestrator
	Agents       *agent.Registry
	Vault        *vault.Store
	Queue        *queue.Queue
	Sessions     *session.Store
	Permissions  *permission.Broker
	Scanner      *docscan.Scanner
	Bus          *event.Bus
}

// DefaultReadTimeout is a conservative bound on header/body read time;
// DefaultWriteTimeout stays unbounded because SSE responses are long-lived.
const (
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 0
)

// Server is the HTTP server wrapping a chi.Mux.
type Server struct {
	cfg     Config
	router  *chi.Mux
	httpSrv *http.Server
}

// New builds a Server with routes and middleware installed.
func New(cfg Config) *Server {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	s := &Server{cfg: cfg, router: chi.NewRouter()}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// Start begins listening. It blocks until the server stops or errors.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router exposes the underlying chi.Mux, primarily for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
