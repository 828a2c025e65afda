package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"consultdesk/internal/auth"
	"consultdesk/internal/authz"
	"consultdesk/internal/chat"
	"consultdesk/internal/httpjson"
	"consultdesk/pkg/interfaces"
	"consultdesk/pkg/types"
)

// Registry exposes socket statistics without coupling to websocket.Registry
type Registry interface {
	GetStats() map[string]int
}

// Dependencies are the collaborators the HTTP surface delegates to
type Dependencies struct {
	Store          interfaces.DatabaseManager
	Chat           *chat.Service
	Registry       Registry
	Tokens         *auth.TokenManager
	Passwords      *auth.PasswordHasher
	Socket         http.Handler // mounted at /chat
	AllowedOrigins []string
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	deps    Dependencies
	router  *chi.Mux
	started time.Time
}

// NewServer builds the router
func NewServer(deps Dependencies) *Server {
	if deps.Passwords == nil {
		deps.Passwords = auth.NewPasswordHasher()
	}
	s := &Server{
		deps:    deps,
		router:  chi.NewRouter(),
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: guards run as route middleware so a denied request
// never reaches a handler
func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.deps.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           86400,
	}))

	r.Get("/health", s.healthCheck)
	r.Post("/api/auth/login", s.login)

	if s.deps.Socket != nil {
		// authenticates itself from header or query before upgrading
		r.Get("/chat", s.deps.Socket.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Authenticate(s.deps.Tokens))

		r.Get("/chat/history/{leadId}", s.chatHistory)

		r.Group(func(r chi.Router) {
			r.Use(authz.RequireStaff)

			r.Get("/api/leads", s.listLeads)
			r.Get("/api/leads/{id}", s.getLead)
			r.With(authz.RequireRoles("admin", "counsellor")).Post("/api/leads", s.createLead)
			r.Post("/api/leads/{id}/followups", s.createFollowup)
			r.Get("/api/followups", s.listFollowups)
		})

		r.With(authz.RequireRoles("admin")).Get("/api/chat/stats", s.chatStats)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpjson.Error(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpjson.Error(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
	Uptime      string         `json:"uptime"`
}

// FUNCTIONAL DISCOVERY: GET /health - 503 when the database check fails
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Database:    "healthy",
		Connections: s.deps.Registry.GetStats(),
		Uptime:      time.Since(s.started).Round(time.Second).String(),
	}

	code := http.StatusOK
	if err := s.deps.Store.HealthCheck(ctx); err != nil {
		response.Status = "unhealthy"
		response.Database = fmt.Sprintf("error: %v", err)
		code = http.StatusServiceUnavailable
	}
	httpjson.Write(w, code, response)
}

// writeError maps domain errors onto status codes; unknown errors become a bare 500
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, types.ErrNotFound):
		httpjson.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, interfaces.ErrForbidden):
		httpjson.Error(w, http.StatusForbidden, err.Error())
	case errors.Is(err, interfaces.ErrUnauthorized):
		httpjson.Error(w, http.StatusUnauthorized, err.Error())
	case isValidation(err):
		httpjson.Error(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err)
		httpjson.Error(w, http.StatusInternalServerError, "internal error")
	}
}

func isValidation(err error) bool {
	for _, target := range []error{
		types.ErrInvalidID,
		types.ErrEmptyMessage,
		types.ErrMessageTooLong,
		types.ErrInvalidLeadName,
		types.ErrInvalidEmail,
		types.ErrEmptyNote,
		types.ErrMissingBranch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
