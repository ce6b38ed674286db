package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/astrorpc/internal/device"
	"github.com/nerrad567/astrorpc/internal/dispatch"
	"github.com/nerrad567/astrorpc/internal/infrastructure/config"
	"github.com/nerrad567/astrorpc/internal/infrastructure/logging"
	"github.com/nerrad567/astrorpc/internal/journal"
	"github.com/nerrad567/astrorpc/internal/rpc"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Client is the part of *rpc.Client the server reads from.
type Client interface {
	IsConnected() bool
	State() rpc.State
	Stats() rpc.Stats
	Subscribe(h rpc.Handler)
	GetValue(ctx context.Context, method, key string, kinds ...rpc.Kind) (rpc.Value, error)
}

// Invoker performs journaled requests. *dispatch.Dispatcher satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

// DeviceLister lists enabled instruments. backend.Backend satisfies it.
type DeviceLister interface {
	Devices() []device.Kind
	Device(kind device.Kind) (device.Device, error)
}

// Connectivity reports whether a link is up. *mqtt.Client satisfies it.
type Connectivity interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Client  Client
	Invoker Invoker
	Journal journal.Repository // optional: /journal returns 503 without it
	Devices DeviceLister       // optional
	MQTT    Connectivity       // optional
	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	client    Client
	invoker   Invoker
	journal   journal.Repository
	devices   DeviceLister
	mqtt      Connectivity
	version   string
	startTime time.Time
	hub       *Hub

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	relay    sync.Once
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Client == nil {
		return nil, fmt.Errorf("rpc client is required")
	}
	if deps.Invoker == nil {
		return nil, fmt.Errorf("invoker is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		client:    deps.Client,
		invoker:   deps.Invoker,
		journal:   deps.Journal,
		devices:   deps.Devices,
		mqtt:      deps.MQTT,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
	}, nil
}

// Handler returns the router with all routes and middleware. Start serves
// the same handler; tests use it with httptest.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays client events to it, and launches the
// HTTP listener in a background goroutine. The listener is bound before
// Start returns so a port conflict is reported to the caller.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)
	s.relayEvents()

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	cancel := s.cancel
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	// Stops the hub, which closes every WebSocket connection.
	if cancel != nil {
		cancel()
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

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// relayEvents forwards client events to WebSocket subscribers. Replies are
// delivered to their callers, not broadcast.
func (s *Server) relayEvents() {
	s.relay.Do(func() {
		s.client.Subscribe(func(ev rpc.Event) {
			if ev.Name == rpc.EventResponse {
				return
			}
			s.hub.Broadcast(ev.Name, eventPayload(ev))
		})
	})
}

// eventPayload is the WebSocket payload for a client event.
func eventPayload(ev rpc.Event) map[string]any {
	payload := make(map[string]any, len(ev.Fields))
	for k, v := range ev.Fields {
		payload[k] = v
	}
	return payload
}
