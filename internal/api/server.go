package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-wpan/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-wpan/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-wpan/internal/journal"
	"github.com/nerrad567/gray-logic-wpan/internal/wpan"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// defaultRequestTimeout bounds each engine call made for a request.
const defaultRequestTimeout = 5 * time.Second

// Engine is the part of *wpan.Engine the API uses.
type Engine interface {
	Snapshot(ctx context.Context) (wpan.Snapshot, error)
	Describe(ctx context.Context, ref wpan.EntityRef) (wpan.Object, error)
	SetProperty(ctx context.Context, ref wpan.EntityRef, name string, value any) error
}

// History reads journal events. *journal.Recorder satisfies it.
type History interface {
	History(ctx context.Context, ref wpan.EntityRef, limit int) ([]journal.Event, error)
	Recent(ctx context.Context, limit int) ([]journal.Event, error)
}

// HealthChecker is any component with a HealthCheck method (netlink,
// MQTT, database, InfluxDB clients).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Engine  Engine
	History History // Optional: history endpoint answers 503 without it

	// Checks are reported by name in the health endpoint. Optional.
	Checks map[string]HealthChecker

	// RequestTimeout bounds each engine call. Default: 5 seconds.
	RequestTimeout time.Duration

	Version string
}

// Server is the HTTP API server for wpand.
//
// The server is created with New() and started with Start().
type Server struct {
	cfg            config.APIConfig
	logger         *logging.Logger
	engine         Engine
	history        History
	checks         map[string]HealthChecker
	requestTimeout time.Duration
	version        string
	hub            *Hub
	server         *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, engine)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &Server{
		cfg:            deps.Config,
		logger:         deps.Logger,
		engine:         deps.Engine,
		history:        deps.History,
		checks:         deps.Checks,
		requestTimeout: timeout,
		version:        deps.Version,
		hub:            NewHub(deps.Logger),
	}, nil
}

// Observe implements wpan.Observer by relaying the change to WebSocket
// clients subscribed to its kind.
func (s *Server) Observe(c wpan.Change) {
	s.hub.Observe(c)
}

// Start begins listening for HTTP connections.
//
// It builds the router and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	read, write, idle := s.cfg.Timeouts.Durations()
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       read,
		ReadHeaderTimeout: read,
		WriteTimeout:      write,
		IdleTimeout:       idle,
	}

	go s.hub.Run(ctx)

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	s.hub.Close()
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
