package process

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/nerrad567/astrorpc/internal/infrastructure/config"
)

// Readiness polling for a freshly started server.
const (
	readyTimeout      = 30 * time.Second
	readyPollInterval = 250 * time.Millisecond
	dialTimeout       = 2 * time.Second
)

// ErrNotManaged is returned by NewServer when the configuration leaves the
// device server to be run externally.
var ErrNotManaged = errors.New("device server is not managed")

// Server supervises a locally launched device-control server and probes it
// by dialing its RPC port.
type Server struct {
	cfg     config.ServerConfig
	addr    string
	logger  Logger
	process *Manager
}

// NewServer builds a supervisor for the server described by cfg, listening
// on addr (host:port of the RPC endpoint).
func NewServer(cfg config.ServerConfig, addr string, logger Logger) (*Server, error) {
	if !cfg.Managed {
		return nil, ErrNotManaged
	}
	if cfg.Binary == "" {
		return nil, fmt.Errorf("server binary is required when managed")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, fmt.Errorf("invalid server address %q: %w", addr, err)
	}
	if logger == nil {
		logger = noopLogger{}
	}

	s := &Server{cfg: cfg, addr: addr, logger: logger}

	restartDelay := time.Duration(cfg.RestartDelaySeconds) * time.Second
	s.process = NewManager(Config{
		Name:                "device-server",
		Binary:              cfg.Binary,
		Args:                cfg.Args,
		WorkDir:             cfg.WorkingDir,
		RestartOnFailure:    cfg.RestartOnFailure,
		RestartDelay:        restartDelay,
		MaxRestartAttempts:  cfg.MaxRestartAttempts,
		HealthCheckInterval: cfg.HealthCheckInterval,
		HealthCheckFunc:     s.HealthCheck,
		OnRestart: func(attempt int) {
			logger.Info("device server restarting", "attempt", attempt)
		},
	})
	s.process.SetLogger(logger)
	return s, nil
}

// Start launches the server and waits until its port accepts connections.
func (s *Server) Start(ctx context.Context) error {
	if err := s.process.Start(ctx); err != nil {
		return fmt.Errorf("starting device server: %w", err)
	}

	if err := s.waitForReady(ctx); err != nil {
		if stopErr := s.process.Stop(); stopErr != nil {
			s.logger.Warn("error stopping device server after failed readiness check", "error", stopErr)
		}
		return fmt.Errorf("device server failed to become ready: %w", err)
	}

	s.logger.Info("device server ready", "address", s.addr, "pid", s.process.PID())
	return nil
}

// Stop terminates the server.
func (s *Server) Stop() error {
	return s.process.Stop()
}

// HealthCheck dials the server's RPC port.
func (s *Server) HealthCheck(ctx context.Context) error {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", s.addr, err)
	}
	return conn.Close()
}

// Stats returns the supervisor's process statistics.
func (s *Server) Stats() Stats {
	return s.process.Stats()
}

// IsRunning reports whether the server process is up.
func (s *Server) IsRunning() bool {
	return s.process.IsRunning()
}

// Done is closed when supervision ends.
func (s *Server) Done() <-chan struct{} {
	return s.process.Done()
}

// waitForReady polls the RPC port until it accepts a connection.
func (s *Server) waitForReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	s.logger.Debug("waiting for device server", "address", s.addr)

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	for {
		if !s.process.IsRunning() {
			if lastErr := s.process.LastError(); lastErr != nil {
				return fmt.Errorf("device server exited: %w", lastErr)
			}
			if s.process.Status() != StatusStarting {
				return errors.New("device server exited unexpectedly")
			}
		}

		if err := s.HealthCheck(ctx); err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", s.addr, ctx.Err())
		case <-ticker.C:
		}
	}
}
