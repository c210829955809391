package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds the database ping on the health endpoint.
const healthCheckTimeout = 2 * time.Second

// Pinger verifies database reachability for the health endpoint. Satisfied
// by pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server assembles the router, middleware chain, and handlers for the
// reminder API. It serves both local HTTP and Lambda proxy integration.
type Server struct {
	Logger    *slog.Logger
	Reminders *ReminderHandler
	DB        Pinger

	router *chi.Mux
}

// NewServer creates a Server and mounts all routes.
func NewServer(logger *slog.Logger, reminders *ReminderHandler, db Pinger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Logger:    logger,
		Reminders: reminders,
		DB:        db,
		router:    chi.NewRouter(),
	}
	s.mountRoutes()
	return s
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// mountRoutes registers the middleware chain and all routes. Recoverer is
// outermost so panics anywhere in the chain are caught.
func (s *Server) mountRoutes() {
	s.router.Use(Recoverer(s.Logger))
	s.router.Use(RequestID)
	s.router.Use(RequestLogger(s.Logger))

	s.router.Route("/v1", func(r chi.Router) {
		s.Reminders.RegisterRoutes(r)
	})

	s.router.Get("/health", s.handleHealth)
}

// handleHealth reports service health: 200 when the database responds to a
// ping within the deadline, 503 otherwise. Public, unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	if s.DB != nil {
		if err := s.DB.Ping(ctx); err != nil {
			s.Logger.WarnContext(r.Context(), "health check database ping failed", "error", err)
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	JSON(w, r, code, map[string]string{"status": status})
}
