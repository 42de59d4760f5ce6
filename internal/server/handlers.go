package server

import (
	"log/slog"
	"net/http"

	"github.com/labring/testreport/pkg/handlers"
	"github.com/labring/testreport/pkg/handlers/launch"
	"github.com/labring/testreport/pkg/handlers/logs"
	"github.com/labring/testreport/pkg/handlers/websocket"
	"github.com/labring/testreport/pkg/router"
)

// routeConfig defines route configuration
type routeConfig struct {
	Method   string
	Pattern  string
	Function http.HandlerFunc
}

// registerRoutes registers all routes using configuration
func (s *Server) registerRoutes(r *router.Router, middlewareChain func(http.Handler) http.Handler) {
	wsConfig := websocket.NewDefaultWebSocketConfig()
	wsConfig.MaxTail = s.config.TailHistory

	launchHandler := launch.NewLaunchHandler(s.store)
	logHandler := logs.NewLogHandler(s.store, s.config.MaxUploadSize)
	healthHandler := handlers.NewHealthHandler(s.store, nil)
	s.stream = websocket.NewWebSocketHandler(s.store, wsConfig)

	routes := []routeConfig{
		// Health endpoints
		{"GET", "/health", healthHandler.HealthCheck},
		{"GET", "/health/ready", healthHandler.ReadinessCheck},

		// Launches
		{"POST", "/api/v1/:project/launch", launchHandler.StartLaunch},
		{"GET", "/api/v1/:project/launch", launchHandler.ListLaunches},
		{"GET", "/api/v1/:project/launch/:id", launchHandler.GetLaunch},
		{"PUT", "/api/v1/:project/launch/:id/finish", launchHandler.FinishLaunch},

		// Test items
		{"POST", "/api/v1/:project/item", launchHandler.StartItem},
		{"POST", "/api/v1/:project/item/:parent", launchHandler.StartItem},
		{"PUT", "/api/v1/:project/item/:id", launchHandler.FinishItem},
		{"GET", "/api/v1/:project/item/:id", launchHandler.GetItem},

		// Logs
		{"POST", "/api/v1/:project/log", logHandler.SaveLogs},
		{"GET", "/api/v1/:project/item/:id/log", logHandler.ItemLogs},
		{"GET", "/api/v1/:project/item/:id/log/:log/attachment", logHandler.Attachment},

		// Live log stream
		{"GET", "/ws", s.stream.HandleWebSocket},
	}

	for _, route := range routes {
		slog.Debug("Registering route",
			slog.String("method", route.Method),
			slog.String("pattern", route.Pattern),
		)

		r.Register(route.Method, route.Pattern, middlewareChain(route.Function).ServeHTTP)
	}
}
