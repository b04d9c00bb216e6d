// Package http serves the minutes REST API: corpus ingestion, passage
// search, task extraction (plain and streamed) and issue publishing.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/minutes/internal/corpus"
	"github.com/fyrsmithlabs/minutes/internal/extraction"
	"github.com/fyrsmithlabs/minutes/internal/logging"
	"github.com/fyrsmithlabs/minutes/internal/publisher"
	"github.com/fyrsmithlabs/minutes/internal/stream"
)

// Services are the domain components the API exposes. Publisher may be nil
// when no tracker is configured; the issue routes then answer 503.
type Services struct {
	Corpus       *corpus.Service
	Orchestrator *extraction.Orchestrator
	Publisher    *publisher.Publisher
	Sink         stream.EventSink
	IndexBackend string
}

// Server provides HTTP endpoints for minutes.
type Server struct {
	echo    *echo.Echo
	svc     Services
	logger  *zap.Logger
	config  *Config
	metrics *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string
	BodyLimit      string
}

// DefaultAllowedOrigins are the local dev frontends.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8081"}

// NewServer creates a new HTTP server.
func NewServer(svc Services, logger *zap.Logger, cfg *Config) (*Server, error) {
	if svc.Corpus == nil {
		return nil, fmt.Errorf("corpus service cannot be nil")
	}
	if svc.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 8000}
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = DefaultAllowedOrigins
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "10M"
	}
	if svc.Sink == nil {
		svc.Sink = stream.NopSink{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		svc:     svc,
		logger:  logger,
		config:  cfg,
		metrics: NewHTTPMetrics(logger),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(s.requestContext)
	e.Use(s.accessLog)

	s.registerRoutes()
	return s, nil
}

// requestContext carries the request id into the request context so domain
// logs can be correlated with the access log.
func (s *Server) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Response().Header().Get(echo.HeaderXRequestID)
		req := c.Request()
		c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
		return next(c)
	}
}

func (s *Server) accessLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		logging.For(c.Request().Context(), s.logger).Info("http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/corpora", s.handleIngest)
	v1.GET("/corpora", s.handleListCorpora)
	v1.GET("/search", s.handleSearch)
	v1.POST("/tasks", s.handleTasks)
	v1.POST("/tasks/stream", s.handleTasksStream)
	v1.POST("/issues/preview", s.handleIssuesPreview)
	v1.POST("/issues", s.handleIssues)
}

// ServeHTTP makes the server usable as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
