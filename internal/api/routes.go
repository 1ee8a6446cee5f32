package api

import (
	"net/http"

	"ctxsync/internal/engine"
	"ctxsync/internal/event"
	"ctxsync/internal/logging"
	"ctxsync/internal/metrics"
)

type RoutesConfig struct {
	Engine         *engine.Engine
	Bus            *event.Bus[event.Event]
	Registry       *metrics.Registry
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

// RegisterRoutes attaches the observation and update surface to a mux.
func RegisterRoutes(mux *http.ServeMux, config RoutesConfig) {
	registry := config.Registry
	if registry == nil {
		registry = metrics.Default
	}
	rest := &RestHandler{
		Engine:   config.Engine,
		Registry: registry,
		Logger:   config.Logger,
	}

	mux.HandleFunc("/api/status", restHandler(config.AuthToken, rest.handleStatus))
	mux.HandleFunc("/api/components", restHandler(config.AuthToken, rest.handleComponents))
	mux.HandleFunc("/api/components/", restHandler(config.AuthToken, rest.handleComponent))
	mux.HandleFunc("/api/metrics", restHandler(config.AuthToken, rest.handleMetrics))
	mux.HandleFunc("/api/logs", restHandler(config.AuthToken, rest.handleLogs))

	mux.Handle("/ws/events", securityHeadersMiddleware(cacheControlNoStore, loggingMiddleware(config.Logger, &EventsHandler{
		Bus:            config.Bus,
		Logger:         config.Logger,
		AuthToken:      config.AuthToken,
		AllowedOrigins: config.AllowedOrigins,
	})))
	mux.Handle("/api/events/stream", securityHeadersMiddleware(cacheControlNoStore, loggingMiddleware(config.Logger, &EventsSSEHandler{
		Bus:       config.Bus,
		Logger:    config.Logger,
		AuthToken: config.AuthToken,
	})))
	mux.Handle("/api/logs/stream", securityHeadersMiddleware(cacheControlNoStore, loggingMiddleware(config.Logger, &LogsSSEHandler{
		Logger:    config.Logger,
		AuthToken: config.AuthToken,
	})))
}
