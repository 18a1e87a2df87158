// Package http provides the API server wiring: router, middleware, and the
// separate metrics server.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"

	"github.com/allisson/syncbox/internal/config"
	"github.com/allisson/syncbox/internal/metrics"
	outboxHTTP "github.com/allisson/syncbox/internal/outbox/http"
	traceHTTP "github.com/allisson/syncbox/internal/trace/http"
)

// Server represents the API HTTP server.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// RouterDeps bundles everything the router mounts.
type RouterDeps struct {
	Config          *config.Config
	IntentHandler   *outboxHTTP.IntentHandler
	TraceHandler    *traceHTTP.TraceHandler
	MetricsProvider *metrics.Provider
	Logger          *slog.Logger
}

// NewServer creates the API server with the fully-wired router.
func NewServer(deps RouterDeps) *Server {
	return &Server{
		logger: deps.Logger,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", deps.Config.ServerHost, deps.Config.ServerPort),
			Handler:      SetupRouter(deps),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// SetupRouter builds the gin engine with all middleware and routes.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(deps.Config.GetGinMode())

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New())
	router.Use(CustomLoggerMiddleware(deps.Logger))

	if corsMiddleware := createCORSMiddleware(
		deps.Config.CORSEnabled, deps.Config.CORSAllowOrigins, deps.Logger,
	); corsMiddleware != nil {
		router.Use(corsMiddleware)
	}

	if deps.Config.MetricsEnabled && deps.MetricsProvider != nil {
		router.Use(metrics.HTTPMetricsMiddleware(
			deps.MetricsProvider.MeterProvider(), deps.Config.MetricsNamespace,
		))
	}

	router.GET("/health", healthHandler)
	router.GET("/ready", healthHandler)

	v1 := router.Group("/v1")
	{
		intents := v1.Group("/intents")
		if deps.Config.RateLimitEnabled {
			intents.Use(RateLimitMiddleware(
				deps.Config.RateLimitRequestsPerSec, deps.Config.RateLimitBurst, deps.Logger,
			))
		}
		intents.POST("", deps.IntentHandler.SubmitHandler)
		intents.GET("/pending", deps.IntentHandler.ListPendingHandler)
		intents.GET("/pending/count", deps.IntentHandler.PendingCountHandler)
		intents.POST("/sync", deps.IntentHandler.SyncHandler)

		v1.GET("/traces/:trace_id", deps.TraceHandler.GetHandler)
	}

	return router
}

// Start starts the API server and blocks until it stops.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting http server", slog.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.server.Shutdown(ctx)
}

// healthHandler answers liveness and readiness checks.
func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
