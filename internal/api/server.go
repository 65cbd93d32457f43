// Package api provides the HTTP status API for Shorebase.
// It uses Echo to serve REST endpoints, a Prometheus metrics endpoint,
// and WebSocket connections for streaming run events.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shorebase/shorebase/internal/auth"
	"github.com/shorebase/shorebase/internal/config"
	"github.com/shorebase/shorebase/internal/metrics"
	"github.com/shorebase/shorebase/internal/store"
	"github.com/shorebase/shorebase/internal/version"
	"github.com/shorebase/shorebase/models"
)

// Provisioner runs provisioning operations against the target host.
type Provisioner interface {
	Apply(ctx context.Context) (*models.RunReport, error)
	Verify(ctx context.Context) (*models.RunReport, error)
}

// ProvisionerFactory builds a Provisioner whose run events are delivered
// to onEvent. A fresh Provisioner is built per run so each run gets its
// own SSH connection.
type ProvisionerFactory func(onEvent func(models.RunEvent)) Provisioner

// Server represents the Shorebase status API server.
type Server struct {
	echo       *echo.Echo
	store      *store.Store
	config     *config.Config
	log        *zap.Logger
	wsHub      *Hub
	authMiddle *auth.Middleware
	newProv    ProvisionerFactory

	// one provisioning run at a time; the target is a single host
	runMu   sync.Mutex
	running bool
}

// New creates a new API server instance.
func New(cfg *config.Config, st *store.Store, log *zap.Logger, factory ProvisionerFactory) *Server {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.Server.Debug
	e.HTTPErrorHandler = HTTPErrorHandler

	hub := NewHub(log)

	server := &Server{
		echo:       e,
		store:      st,
		config:     cfg,
		log:        log,
		wsHub:      hub,
		authMiddle: auth.NewMiddleware(cfg),
		newProv:    factory,
	}

	// Start WebSocket hub in background
	go hub.Run()

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))

	s.echo.Use(middleware.Recover())

	s.echo.Use(SecurityHeaders)

	if len(s.config.Security.AllowedOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.config.Security.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}

	s.echo.Use(middleware.RequestID())

	if s.config.Security.RateLimit > 0 {
		s.echo.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(s.config.Security.RateLimit),
		)))
	}

	s.echo.Use(ValidateContentType)
	s.echo.Use(MetricsMiddleware)
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	// Health check
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/", s.healthCheck)

	// Prometheus metrics
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(
		metrics.Registry,
		promhttp.HandlerOpts{},
	)))

	// API v1 group
	v1 := s.echo.Group("/api/v1")

	// Run routes
	runs := v1.Group("/runs")
	runs.GET("", s.listRuns, s.authMiddle.RequireRead)
	runs.GET("/:id", s.getRun, s.authMiddle.RequireRead)
	runs.POST("", s.startRun, s.authMiddle.RequireAuth, s.authMiddle.RequireWrite)

	// Target and service routes
	v1.GET("/target", s.getTarget, s.authMiddle.RequireRead)
	v1.GET("/services", s.listServices, s.authMiddle.RequireRead)
	v1.GET("/plan", s.getPlan, s.authMiddle.RequireRead)

	// WebSocket routes
	ws := v1.Group("/ws")
	ws.GET("/runs", s.handleWebSocket, s.authMiddle.RequireRead)
	ws.GET("/stats", s.getWebSocketStats, s.authMiddle.RequireRead)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.log.Info("starting status API server",
		zap.String("address", addr),
		zap.String("target", s.config.Target.Address),
		zap.Bool("auth_enabled", s.config.Security.AuthEnabled))

	s.echo.Server.ReadTimeout = s.config.Server.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.Server.WriteTimeout

	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down status API server")

	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}

	if err := s.store.Close(); err != nil {
		return fmt.Errorf("error closing store: %w", err)
	}

	return nil
}

// healthCheck handles health check requests.
func (s *Server) healthCheck(c echo.Context) error {
	info := version.Get()

	resp := map[string]interface{}{
		"status":  "healthy",
		"service": "shorebase",
		"version": info.Version,
		"target":  s.config.Target.Address,
	}

	if last, err := s.store.LastRun("apply"); err == nil {
		resp["last_apply"] = map[string]interface{}{
			"id":         last.ID,
			"status":     last.Status,
			"started_at": last.StartedAt,
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// ServeHTTP allows Server to implement http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
