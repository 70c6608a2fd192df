// Package http serves the answer pipeline over HTTP.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/notesrag/internal/logging"
	"github.com/fyrsmithlabs/notesrag/internal/orchestrator"
	"github.com/fyrsmithlabs/notesrag/internal/sanitize"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HeaderOwnerID carries the authenticated owner, set by the gateway in front
// of this service.
const HeaderOwnerID = "X-Owner-ID"

// Answerer answers a query from one owner's notes.
type Answerer interface {
	Answer(ctx context.Context, query string, ownerID int64, opts orchestrator.AnswerOptions) (*orchestrator.QueryResponse, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server provides HTTP endpoints for notesrag.
type Server struct {
	echo     *echo.Echo
	answerer Answerer
	store    Pinger
	backend  string
	logger   *logging.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// RequestTimeout bounds one answer request. Zero means no limit beyond
	// the pipeline's own timeouts.
	RequestTimeout time.Duration
	// Backend names the generation backend reported by /health.
	Backend string
}

// NewServer creates a new HTTP server.
func NewServer(answerer Answerer, store Pinger, logger *logging.Logger, cfg *Config) (*Server, error) {
	if answerer == nil {
		return nil, fmt.Errorf("answerer cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), requestID)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	})

	s := &Server{
		echo:     e,
		answerer: answerer,
		store:    store,
		backend:  cfg.Backend,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/answer", s.handleAnswer)
}

// Handler exposes the routes for embedding in another server or a test.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Backend: s.backend, Store: "ok"}
	if s.store != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			s.logger.Warn(ctx, "health check: store unreachable", zap.Error(err))
			resp.Status = "degraded"
			resp.Store = "unreachable"
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAnswer(c echo.Context) error {
	ctx := c.Request().Context()

	ownerID, err := sanitize.ParseOwnerID(c.Request().Header.Get(HeaderOwnerID))
	if err != nil {
		s.logger.Warn(ctx, "answer request without a valid owner", zap.Error(err))
		return c.JSON(http.StatusBadRequest, rejected(err))
	}

	var req AnswerRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(ctx, "invalid answer request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, rejected(errors.New("invalid request body")))
	}

	if s.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
	}

	resp, err := s.answerer.Answer(ctx, req.Query, ownerID, orchestrator.AnswerOptions{
		IncludeDiagnostics: req.IncludeDiagnostics,
		TopK:               req.TopK,
	})
	return c.JSON(statusFor(err), resp)
}

// statusFor maps a pipeline error to a response code. A generation failure
// still carries a complete fallback answer, so it is not an HTTP error.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, orchestrator.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrEmbedding), errors.Is(err, orchestrator.ErrRetrieval):
		return http.StatusServiceUnavailable
	case errors.Is(err, orchestrator.ErrGeneration), errors.Is(err, orchestrator.ErrGenerationTimeout):
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

func rejected(err error) *orchestrator.QueryResponse {
	return &orchestrator.QueryResponse{
		Answer:  orchestrator.InvalidInputAnswer,
		Sources: []orchestrator.Source{},
		Status:  orchestrator.StatusInvalidInput,
		Metadata: &orchestrator.Metadata{
			FailureReason: err.Error(),
		},
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
