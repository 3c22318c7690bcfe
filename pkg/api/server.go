package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/redback/pkg/httputil"
	"github.com/platinummonkey/redback/pkg/observability"
	"github.com/platinummonkey/redback/pkg/rbac"
)

// maxRequestBytes caps request bodies
const maxRequestBytes = 1 << 20

// Server represents our API server
type Server struct {
	router   *mux.Router
	handlers *RBACHandlers
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewServer creates a new API server over manager. Logger and metrics may be nil.
func NewServer(manager rbac.Manager, logger *observability.Logger, metrics *observability.Metrics) *Server {
	if logger == nil {
		logger = observability.NopLogger()
	}
	s := &Server{
		router:   mux.NewRouter(),
		handlers: NewRBACHandlers(manager),
		logger:   logger,
		metrics:  metrics,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures middleware and all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(
		observability.RecoveryMiddleware(s.logger),
		httputil.RequestIDMiddleware(s.logger),
		httputil.LoggingMiddleware,
		observability.HTTPMetricsMiddleware(s.metrics),
		httputil.MaxBytesMiddleware(maxRequestBytes),
	)
	s.RegisterRoutes(s.handlers)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Use appends middleware that runs after the built-in request middleware
func (s *Server) Use(middlewares ...func(http.Handler) http.Handler) {
	for _, mw := range middlewares {
		s.router.Use(mw)
	}
}

// Router exposes the underlying router so callers can mount extra routes
func (s *Server) Router() *mux.Router {
	return s.router
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}
