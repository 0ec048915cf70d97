// Package http serves the mcpforge REST API: run submission and status,
// stored deployments, health and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mcpforge/internal/logging"
	"github.com/fyrsmithlabs/mcpforge/internal/orchestrator"
)

// Runner executes runs. *orchestrator.Orchestrator implements it.
type Runner interface {
	NewRunID() string
	RunWithID(ctx context.Context, runID string, req orchestrator.Request) orchestrator.Summary
}

// Server provides HTTP endpoints for mcpforge.
type Server struct {
	echo     *echo.Echo
	runner   Runner
	tracker  *Tracker
	logger   *logging.Logger
	config   *Config
	counters *runCounters

	// runCtx outlives individual requests; it is cancelled when shutdown
	// gives up waiting for in-flight runs.
	runCtx    context.Context
	cancelRun context.CancelFunc
	runs      sync.WaitGroup
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// DefaultIterationCap applies when a request omits iteration_cap.
	DefaultIterationCap int
	// Tokens maps API bearer tokens to owner names. Empty leaves the run
	// endpoints open and takes owner_id from the request body.
	Tokens map[string]string
	// Deployments serves /api/v1/deployments. Nil leaves those routes
	// unregistered.
	Deployments Deployments
}

// NewServer creates a new HTTP server. tracker should also be registered
// as an observer of the orchestrator behind runner so run status reflects
// live phases; nil creates a tracker that only sees final summaries.
func NewServer(runner Runner, tracker *Tracker, logger *logging.Logger, cfg *Config) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if tracker == nil {
		tracker = NewTracker()
	}
	if cfg == nil {
		cfg = &Config{
			Host:                "localhost",
			Port:                9090,
			DefaultIterationCap: 5,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	reg := prometheus.NewRegistry()
	runCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		echo:      e,
		runner:    runner,
		tracker:   tracker,
		logger:    logger,
		config:    cfg,
		counters:  newRunCounters(reg),
		runCtx:    runCtx,
		cancelRun: cancel,
	}
	s.registerRoutes(reg)
	return s, nil
}

func (s *Server) registerRoutes(reg *prometheus.Registry) {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1", OwnerAuthMiddleware(s.config.Tokens))
	v1.POST("/runs", s.handleCreateRun)
	v1.GET("/runs/:id", s.handleGetRun)
	if s.config.Deployments != nil {
		v1.GET("/deployments", s.handleListDeployments)
		v1.GET("/deployments/:id", s.handleGetDeployment)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", ActiveRuns: s.tracker.Active()})
}

// handleCreateRun validates the request and starts the run in the
// background. The response carries the run id to poll.
func (s *Server) handleCreateRun(c echo.Context) error {
	var body CreateRunRequest
	if err := c.Bind(&body); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid run request", zap.Error(err))
		s.counters.rejected.Inc()
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	kind, err := orchestrator.ParseInputKind(body.Kind)
	if err != nil {
		s.counters.rejected.Inc()
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	iterationCap := body.IterationCap
	if iterationCap == 0 {
		iterationCap = s.config.DefaultIterationCap
	}
	req := orchestrator.Request{
		Input:        orchestrator.Input{Kind: kind, Payload: strings.TrimSpace(body.Payload)},
		IterationCap: iterationCap,
		OwnerID:      body.OwnerID,
	}
	if ownerID, ok := OwnerIDFrom(c); ok {
		req.OwnerID = ownerID
	}
	if err := orchestrator.Validate(req.Input, req.IterationCap); err != nil {
		s.counters.rejected.Inc()
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	runID := s.runner.NewRunID()
	s.tracker.add(runID, time.Now())
	s.counters.submitted.WithLabelValues(string(kind)).Inc()

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		summary := s.runner.RunWithID(s.runCtx, runID, req)
		s.tracker.finish(summary, time.Now())
		s.counters.recordFinished(summary)
	}()

	s.logger.Info(c.Request().Context(), "run submitted",
		zap.String("run_id", runID),
		zap.String("input_kind", string(kind)),
	)
	return c.JSON(http.StatusAccepted, CreateRunResponse{
		RunID:  runID,
		Phase:  orchestrator.PhaseIdle,
		Status: "/api/v1/runs/" + runID,
	})
}

func (s *Server) handleGetRun(c echo.Context) error {
	st, ok := s.tracker.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, st)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight runs. If ctx
// expires first the runs are cancelled; they still finish as Cancelled and
// are reported before Shutdown returns.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server", zap.Int("active_runs", s.tracker.Active()))
	err := s.echo.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.cancelRun()
		<-done
	}
	s.cancelRun()
	return err
}
