// Package http provides the HTTP API for conceptd.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conceptd/internal/bus"
	"github.com/fyrsmithlabs/conceptd/internal/engine"
	"github.com/fyrsmithlabs/conceptd/internal/logging"
)

// Server provides HTTP endpoints for conceptd.
type Server struct {
	echo     *echo.Echo
	engine   *engine.Engine
	eventBus *bus.Bus
	logger   *zap.Logger
	config   *Config
	validate *validateLimiter
	metrics  *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// ValidateRPS and ValidateBurst bound validation requests per
	// client. Validation fans out to every signal producer, so it is
	// the one endpoint worth throttling.
	ValidateRPS   float64
	ValidateBurst int
}

// NewServer creates a new HTTP server. The event bus is optional; when
// absent the SSE endpoint reports the stream as unavailable.
func NewServer(eng *engine.Engine, eventBus *bus.Bus, logger *zap.Logger, cfg *Config) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host:          "localhost",
			Port:          9180,
			ValidateRPS:   2,
			ValidateBurst: 5,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			// Propagate correlation ids so downstream log lines carry
			// them alongside any active trace.
			req := c.Request()
			ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
			if id := c.Param("id"); id != "" {
				ctx = logging.WithSessionID(ctx, id)
			}
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			duration := time.Since(start)

			fields := append(logging.ContextFields(ctx),
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
			)
			logger.Info("http request", fields...)

			return err
		}
	})

	metrics := NewHTTPMetrics(logger)
	e.Use(metrics.MetricsMiddleware())

	s := &Server{
		echo:     e,
		engine:   eng,
		eventBus: eventBus,
		logger:   logger,
		config:   cfg,
		validate: newValidateLimiter(cfg.ValidateRPS, cfg.ValidateBurst),
		metrics:  metrics,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/sessions", s.handleStartSession)
	v1.GET("/sessions/:id", s.handleGetSession)
	v1.DELETE("/sessions/:id", s.handleAbandonSession)
	v1.POST("/sessions/:id/turns", s.handleSubmitTurn)
	v1.POST("/sessions/:id/advance", s.handleAdvance)
	v1.POST("/sessions/:id/force", s.handleForce)
	v1.POST("/sessions/:id/validate", s.handleValidate, s.validate.middleware())
	v1.GET("/sessions/:id/mode", s.handleGetMode)
	v1.POST("/sessions/:id/mode/confirm-downgrade", s.handleConfirmDowngrade)
	v1.GET("/sessions/:id/checkpoints", s.handleListCheckpoints)
	v1.POST("/sessions/:id/rollback", s.handleRollback)
	v1.GET("/sessions/:id/events", s.handleEvents)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
