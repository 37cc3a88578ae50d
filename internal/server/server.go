// Package server provides pland's HTTP API: health, run status, run
// triggering and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pland/internal/registry"
)

// RunLauncher starts an analysis run for a work item. Implemented by the
// daemon's orchestrator wiring; returns the run ID.
type RunLauncher func(ctx context.Context, workItemKey string) (string, error)

// Server provides HTTP endpoints for pland.
type Server struct {
	echo     *echo.Echo
	registry *registry.Registry
	launch   RunLauncher
	logger   *zap.Logger
	addr     string
}

// New creates the HTTP server. launch may be nil, which disables the
// trigger endpoint (status-only mode).
func New(reg *registry.Registry, launch RunLauncher, logger *zap.Logger, addr string) (*Server, error) {
	if reg == nil {
		return nil, errors.New("registry cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if addr == "" {
		addr = ":8750"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		registry: reg,
		launch:   launch,
		logger:   logger,
		addr:     addr,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.POST("/runs", s.handleStartRun)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	ActiveRuns int    `json:"active_runs"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:     "ok",
		ActiveRuns: s.registry.ActiveCount(),
	})
}

func (s *Server) handleListRuns(c echo.Context) error {
	return c.JSON(http.StatusOK, s.registry.List())
}

// handleGetRun looks up a run by run ID, falling back to the most recent
// run for a work-item key. Run IDs are UUIDs, work-item keys are not, so
// the fallback is unambiguous.
func (s *Server) handleGetRun(c echo.Context) error {
	id := c.Param("id")
	if dec, err := url.PathUnescape(id); err == nil {
		id = dec
	}
	if rec, err := s.registry.Get(id); err == nil {
		return c.JSON(http.StatusOK, rec)
	}
	if rec, ok := s.registry.ByKey(id); ok {
		return c.JSON(http.StatusOK, rec)
	}
	return echo.NewHTTPError(http.StatusNotFound, "no run found for "+id)
}

// StartRunRequest is the request body for POST /api/v1/runs.
type StartRunRequest struct {
	WorkItemKey string `json:"work_item_key"`
}

// StartRunResponse is the response body for POST /api/v1/runs.
type StartRunResponse struct {
	RunID string `json:"run_id"`
}

func (s *Server) handleStartRun(c echo.Context) error {
	if s.launch == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run launching is not enabled")
	}

	var req StartRunRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid run request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.WorkItemKey == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "work_item_key field is required")
	}

	runID, err := s.launch(c.Request().Context(), req.WorkItemKey)
	if err != nil {
		if errors.Is(err, registry.ErrAlreadyRunning) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		s.logger.Error("failed to start run", zap.String("work_item", req.WorkItemKey), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start run")
	}
	return c.JSON(http.StatusAccepted, StartRunResponse{RunID: runID})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.addr))
	return s.echo.Start(s.addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
