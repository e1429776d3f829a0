package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-hub/internal/audit"
	"github.com/nerrad567/gray-logic-hub/internal/communicator"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Relay is the part of the MQTT relay the API server uses.
type Relay interface {
	ForwardInbound(deviceID int64, frame []byte)
	Published() uint64
	Dropped() uint64
}

// AuditStats reports session trail counters.
type AuditStats interface {
	Written() uint64
	Dropped() uint64
}

// BrokerStatus reports MQTT connectivity.
type BrokerStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config       config.APIConfig
	WS           config.WebSocketConfig
	DeviceStream config.DeviceStreamConfig
	Hub          config.HubConfig
	Security     config.SecurityConfig
	Logger       *logging.Logger
	Communicator *communicator.Communicator

	// Optional.
	Sessions        audit.Repository
	Relay           Relay
	MQTT            BrokerStatus
	Audit           AuditStats
	DB              *database.DB
	MetricsRegistry *prometheus.Registry
	Version         string
}

// Server is the HTTP API server of the hub.
//
// It manages the HTTP listener, routes, middleware, the client session hub
// and the device streams. The server is created with New() and started
// with Start().
type Server struct {
	cfg             config.APIConfig
	wsCfg           config.WebSocketConfig
	devCfg          config.DeviceStreamConfig
	hubCfg          config.HubConfig
	secCfg          config.SecurityConfig
	logger          *logging.Logger
	comm            *communicator.Communicator
	sessions        audit.Repository
	relay           Relay
	mqtt            BrokerStatus
	audit           AuditStats
	db              *database.DB
	registry        *prometheus.Registry
	metrics         *hubMetrics
	hub             *SessionHub
	version         string
	startTime       time.Time
	notifyTimeout   time.Duration
	producerTimeout time.Duration

	mu      sync.Mutex
	server  *http.Server
	baseCtx context.Context
	cancel  context.CancelFunc // cancels sessions and device streams on Close()
}

// New creates a new API server with the given dependencies.
//
// It installs the server's session hub as the communicator's notification
// transport. The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Communicator == nil {
		return nil, fmt.Errorf("communicator is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	reg := deps.MetricsRegistry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Server{
		cfg:             deps.Config,
		wsCfg:           deps.WS,
		devCfg:          deps.DeviceStream,
		hubCfg:          deps.Hub,
		secCfg:          deps.Security,
		logger:          deps.Logger,
		comm:            deps.Communicator,
		sessions:        deps.Sessions,
		relay:           deps.Relay,
		mqtt:            deps.MQTT,
		audit:           deps.Audit,
		db:              deps.DB,
		registry:        reg,
		version:         deps.Version,
		startTime:       time.Now(),
		notifyTimeout:   seconds(deps.Hub.NotifyTimeout, defaultNotifyTimeout),
		producerTimeout: seconds(deps.Hub.ProducerTimeout, defaultProducerTimeout),
	}

	s.hub = NewSessionHub(deps.WS, deps.Logger, deps.Communicator)
	s.metrics = newHubMetrics(reg, deps.Communicator, s.hub.ClientCount)
	s.hub.metrics = s.metrics
	deps.Communicator.SetPusher(s.hub)

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the session hub and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	s.baseCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(s.baseCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	srv := s.server
	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", srv.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = srv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", srv.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Handler returns the router without starting a listener. Sessions and
// device streams opened through it end when ctx is cancelled.
func (s *Server) Handler(ctx context.Context) http.Handler {
	s.mu.Lock()
	if s.baseCtx == nil {
		s.baseCtx, s.cancel = context.WithCancel(ctx)
		go s.hub.Run(s.baseCtx)
	}
	s.mu.Unlock()
	return s.buildRouter()
}

// baseContext is the parent of every long-lived stream context.
func (s *Server) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// Close gracefully shuts down the API server.
//
// Client sessions and device streams are closed first, then in-flight
// requests get up to 10 seconds to complete.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if srv == nil {
		return nil
	}

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
