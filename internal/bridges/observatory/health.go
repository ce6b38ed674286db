package observatory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/astrorpc/internal/infrastructure/mqtt"
	"github.com/nerrad567/astrorpc/internal/rpc"
)

const defaultHealthInterval = 30 * time.Second

// HealthReporter publishes the bridge health at a fixed interval.
type HealthReporter struct {
	version   string
	address   string
	startTime time.Time
	interval  time.Duration
	topic     string
	publisher StatePublisher
	client    Client

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	Version string

	// Address is the device server address shown in the payload.
	Address string

	// Interval defaults to 30 seconds.
	Interval time.Duration

	Topics    mqtt.Topics
	Publisher StatePublisher
	Client    Client
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	return &HealthReporter{
		version:   cfg.Version,
		address:   cfg.Address,
		startTime: time.Now(),
		interval:  interval,
		topic:     cfg.Topics.Health(),
		publisher: cfg.Publisher,
		client:    cfg.Client,
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
}

// Start publishes immediately and then every interval until ctx is done or
// Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final stopping status.
// Safe to call more than once.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publish(HealthStopping, "")
	})
}

// SetLogger sets the logger for publish failures.
func (h *HealthReporter) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

func (h *HealthReporter) log() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}

// PublishStarting publishes a starting status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.Status()
	return h.publish(status, reason)
}

// Status evaluates the current health.
func (h *HealthReporter) Status() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.client == nil || !h.client.IsConnected() {
		return HealthDegraded, "device server disconnected"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.log().Error("failed to publish initial health", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.log().Error("failed to publish health", "error", err)
			}
		}
	}
}

// Message builds the health payload for status.
func (h *HealthReporter) Message(status HealthStatus, reason string) HealthMessage {
	now := time.Now().UTC()
	msg := HealthMessage{
		Status:        status,
		Reason:        reason,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Connection: ConnectionMessage{
			State:     rpc.StateDisconnected.String(),
			Address:   h.address,
			Timestamp: now,
		},
		Timestamp: now,
	}
	if h.client != nil {
		stats := h.client.Stats()
		msg.Connection.State = stats.State.String()
		msg.Connection.SessionID = stats.SessionID
		msg.Statistics = statisticsFrom(stats)
	}
	return msg
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}
	payload, err := json.Marshal(h.Message(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.topic, payload, 1, true)
}
