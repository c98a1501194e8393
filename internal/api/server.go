package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/purifier-bridge/internal/audit"
	"github.com/nerrad567/purifier-bridge/internal/bridge"
	"github.com/nerrad567/purifier-bridge/internal/coordinator"
	"github.com/nerrad567/purifier-bridge/internal/history"
	"github.com/nerrad567/purifier-bridge/internal/infrastructure/config"
	"github.com/nerrad567/purifier-bridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ChannelStateChanged is the WebSocket channel carrying coordinator updates.
const ChannelStateChanged = "device.state_changed"

// DeviceManager is the slice of *coordinator.Manager the API needs.
type DeviceManager interface {
	List() []*coordinator.Poller
	Get(id string) (*coordinator.Poller, error)
	Set(ctx context.Context, id, field string, value any) error
	SubscribeAll(fn func(coordinator.Update))
}

var _ DeviceManager = (*coordinator.Manager)(nil)

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Manager  DeviceManager

	// History serves /devices/{id}/history. Optional.
	History history.Repository

	// Audit records state writes and serves /audit. Optional.
	Audit audit.Repository

	// BridgeStats adds MQTT bridge counters to /health. Optional.
	BridgeStats func() bridge.Statistics

	// Settings is dumped, redacted, by /diagnostics. Optional.
	Settings *config.Config

	Version string
}

// Server is the HTTP API server for the purifier bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	manager     DeviceManager
	history     history.Repository
	audit       audit.Repository
	bridgeStats func() bridge.Statistics
	settings    *config.Config
	version     string
	startTime   time.Time

	hub       *Hub
	server    *http.Server
	listener  net.Listener
	cancel    context.CancelFunc
	subscribe sync.Once
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, manager)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Manager == nil {
		return nil, fmt.Errorf("device manager is required")
	}

	return &Server{
		cfg:         deps.Config,
		secCfg:      deps.Security,
		logger:      deps.Logger,
		manager:     deps.Manager,
		history:     deps.History,
		audit:       deps.Audit,
		bridgeStats: deps.BridgeStats,
		settings:    deps.Settings,
		version:     deps.Version,
		startTime:   time.Now(),
		hub:         NewHub(deps.Config.WebSocket, deps.Logger),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes the hub to coordinator updates,
// binds the listener and serves in a background goroutine. The server can
// be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the hub's lifetime
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)
	s.subscribeUpdates()

	s.listener = ln
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// subscribeUpdates relays coordinator updates to WebSocket clients.
// Manager subscriptions cannot be removed, so it registers at most once.
func (s *Server) subscribeUpdates() {
	s.subscribe.Do(func() {
		s.manager.SubscribeAll(func(u coordinator.Update) {
			s.hub.Broadcast(ChannelStateChanged, newUpdateEvent(u))
		})
	})
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
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

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
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
