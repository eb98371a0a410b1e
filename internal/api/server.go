package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/brokerwatch/internal/infrastructure/config"
	"github.com/nerrad567/brokerwatch/internal/infrastructure/logging"
	"github.com/nerrad567/brokerwatch/internal/journal"
	"github.com/nerrad567/brokerwatch/internal/supervisor"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// StatusSource reports the supervisor snapshot served on /api/v1/status.
type StatusSource interface {
	Status() supervisor.Status
}

// TransitionLog lists persisted transitions, newest first.
type TransitionLog interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// HealthChecker is a dependency reported on /api/v1/health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Status   StatusSource
	Journal  TransitionLog            // optional: /api/v1/transitions answers 404 without it
	Gatherer prometheus.Gatherer      // optional: /metrics is not mounted without it
	Hub      *Hub                     // optional: created from Config.WebSocket if nil
	Checks   map[string]HealthChecker // optional: named dependencies for /api/v1/health
	Version  string
}

// Server exposes supervisor state over HTTP: Prometheus metrics, a status
// snapshot, the transition journal, and a WebSocket event stream.
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	status   StatusSource
	journal  TransitionLog
	gatherer prometheus.Gatherer
	checks   map[string]HealthChecker
	hub      *Hub
	version  string

	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	hubDone  chan struct{}
}

// Lifecycle errors.
var (
	ErrAlreadyStarted = errors.New("api: server already started")
	ErrNotStarted     = errors.New("api: server not started")
)

// New creates a new API server with the given dependencies.
//
// Parameters:
//   - deps: Logger and Status are required
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("api: logger is required")
	}
	if deps.Status == nil {
		return nil, errors.New("api: status source is required")
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.Config.WebSocket, deps.Logger)
	}

	return &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		status:   deps.Status,
		journal:  deps.Journal,
		gatherer: deps.Gatherer,
		checks:   deps.Checks,
		hub:      hub,
		version:  deps.Version,
	}, nil
}

// Start binds the listen address, then serves in the background until
// Close. Binding happens before Start returns so a port conflict is
// reported to the caller.
//
// Parameters:
//   - ctx: Parent of the hub's lifetime
//
// Returns:
//   - error: ErrAlreadyStarted, or the bind failure
func (s *Server) Start(ctx context.Context) error {
	if s.server != nil {
		return ErrAlreadyStarted
	}
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("api listen on %s: %w", s.cfg.Listen, err)
	}
	s.listener = ln

	hubCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.hubDone = make(chan struct{})
	go func() {
		defer close(s.hubDone)
		s.hub.Run(hubCtx)
	}()

	seconds := func(n int) time.Duration { return time.Duration(n) * time.Second }
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       seconds(s.cfg.Timeouts.Read),
		ReadHeaderTimeout: seconds(s.cfg.Timeouts.Read),
		WriteTimeout:      seconds(s.cfg.Timeouts.Write),
		IdleTimeout:       seconds(s.cfg.Timeouts.Idle),
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server stopped", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address after Start, otherwise the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Listen
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Close disconnects WebSocket clients, then waits up to
// gracefulShutdownTimeout for in-flight requests. Closing a server that was
// never started is a no-op.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	s.cancel()
	<-s.hubDone

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck requests /health over the bound listener.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: ErrNotStarted, or why /health did not answer 200
func (s *Server) HealthCheck(ctx context.Context) error {
	if s.listener == nil {
		return ErrNotStarted
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+s.listener.Addr().String()+"/health", nil)
	if err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	resp.Body.Close() //nolint:errcheck // status is all we need
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api health check: status %d", resp.StatusCode)
	}
	return nil
}
