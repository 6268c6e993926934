package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/mfc-control/internal/audit"
	"github.com/nerrad567/mfc-control/internal/calibration"
	"github.com/nerrad567/mfc-control/internal/controller"
	"github.com/nerrad567/mfc-control/internal/infrastructure/config"
	"github.com/nerrad567/mfc-control/internal/infrastructure/logging"
	"github.com/nerrad567/mfc-control/internal/safety"
	"github.com/nerrad567/mfc-control/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// SourceAPI tags audit records written by the API.
const SourceAPI = "api"

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Thresholds config.SafetyConfig
	Logger     *logging.Logger
	Controller *controller.Controller
	Safety     *safety.Manager

	// Optional.
	Sampler      *telemetry.Sampler
	Calibrations *calibration.Store
	AuditRepo    audit.Repository
	Recorder     *audit.Recorder
	Metrics      http.Handler
	Hub          *Hub

	Version string
}

// Server is the HTTP API server for mfcd.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg          config.APIConfig
	wsCfg        config.WebSocketConfig
	thresholds   config.SafetyConfig
	logger       *logging.Logger
	ctrl         *controller.Controller
	safety       *safety.Manager
	sampler      *telemetry.Sampler
	calibrations *calibration.Store
	auditRepo    audit.Repository
	recorder     *audit.Recorder
	metrics      http.Handler
	version      string
	startTime    time.Time

	server      *http.Server
	hub         *Hub
	externalHub bool
	bgCtx       context.Context
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if deps.Safety == nil {
		return nil, fmt.Errorf("safety manager is required")
	}

	s := &Server{
		cfg:          deps.Config,
		wsCfg:        deps.WS,
		thresholds:   deps.Thresholds,
		logger:       deps.Logger,
		ctrl:         deps.Controller,
		safety:       deps.Safety,
		sampler:      deps.Sampler,
		calibrations: deps.Calibrations,
		auditRepo:    deps.AuditRepo,
		recorder:     deps.Recorder,
		metrics:      deps.Metrics,
		version:      deps.Version,
		startTime:    time.Now(),
		bgCtx:        context.Background(),
	}
	if s.recorder != nil {
		s.recorder = s.recorder.WithSource(SourceAPI)
	}

	// An injected hub is also registered as a telemetry sink by the caller.
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(s.wsCfg, s.logger)
	}

	return s, nil
}

// Hub returns the WebSocket hub, for registering it as a telemetry sink.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	s.bgCtx = srvCtx

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
