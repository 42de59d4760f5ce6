package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labring/testreport/pkg/config"
	"github.com/labring/testreport/pkg/handlers/websocket"
	"github.com/labring/testreport/pkg/middleware"
	"github.com/labring/testreport/pkg/router"
	"github.com/labring/testreport/pkg/store"
)

// healthPaths bypass token authentication
var healthPaths = []string{"/health", "/health/ready"}

// Server is the local collector: the REST API the delivery client talks to
// plus a live log stream
type Server struct {
	router *router.Router
	config *config.CollectorConfig
	store  *store.Store
	stream *websocket.WebSocketHandler
}

// New creates a new collector with an empty store
func New(cfg *config.CollectorConfig) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	slog.Info("Initializing collector...")

	r := router.NewRouter()
	srv := &Server{
		router: r,
		config: cfg,
		store:  store.New(),
	}

	if err := srv.setupRoutes(r); err != nil {
		return nil, fmt.Errorf("failed to setup routes: %w", err)
	}

	slog.Info("Collector initialized successfully")

	return srv, nil
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Store exposes the collected launches
func (s *Server) Store() *store.Store {
	return s.store
}

// Cleanup disconnects stream clients
func (s *Server) Cleanup() error {
	slog.Info("Performing collector cleanup...")
	if s.stream != nil {
		s.stream.Close()
	}
	return nil
}

// setupRoutes configures the router and registers routes
func (s *Server) setupRoutes(r *router.Router) error {
	middlewares := []middleware.Middleware{
		middleware.Logger(),
		middleware.Recovery(),
	}
	if s.config.Token != "" {
		middlewares = append(middlewares, middleware.TokenAuth(s.config.Token, healthPaths))
	} else {
		slog.Warn("Collector token is empty, authentication is disabled")
	}

	s.registerRoutes(r, middleware.Chain(middlewares...))

	return nil
}
