package observatory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nerrad567/astrorpc/internal/dispatch"
	"github.com/nerrad567/astrorpc/internal/infrastructure/mqtt"
	"github.com/nerrad567/astrorpc/internal/journal"
	"github.com/nerrad567/astrorpc/internal/rpc"
)

const (
	// eventBuffer is how many events may wait for MQTT before new ones are
	// dropped. Event handlers run on the session goroutine and must not
	// block on the broker.
	eventBuffer = 128

	commandQoS = 1
)

// StatePublisher publishes MQTT messages. *mqtt.Client satisfies it.
type StatePublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Publisher is a StatePublisher that can also subscribe.
type Publisher interface {
	StatePublisher
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Client is the part of *rpc.Client the bridge observes.
type Client interface {
	Subscribe(h rpc.Handler)
	IsConnected() bool
	Stats() rpc.Stats
}

// Invoker performs commands. *dispatch.Dispatcher satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

// ConnectionMetrics records link state changes. *influxdb.Client satisfies it.
type ConnectionMetrics interface {
	WriteConnectionState(connected bool)
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Bridge. Metrics and Logger are optional.
type Options struct {
	Publisher Publisher
	Client    Client
	Invoker   Invoker
	Metrics   ConnectionMetrics
	Topics    mqtt.Topics

	// Address is the device server address reported in state messages.
	Address string

	Version        string
	HealthInterval time.Duration
	Logger         Logger

	// CommandRate limits commands per second; 0 means unlimited.
	CommandRate  float64
	CommandBurst int
}

// Bridge mirrors the device server connection onto MQTT.
//
// It publishes lifecycle and server events, keeps a retained connection
// state, executes commands received on command/+ and reports health.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	pub     Publisher
	client  Client
	invoker Invoker
	metrics ConnectionMetrics
	topics  mqtt.Topics
	address string
	health  *HealthReporter
	limiter *rate.Limiter

	events chan rpc.Event

	// stopped guards wg.Add against Stop.
	mu      sync.Mutex
	stopped bool

	subscribeOnce sync.Once
	done          chan struct{}
	wg            sync.WaitGroup
	stopOnce      sync.Once
	ctx           context.Context
	ctxCancel     context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.Publisher == nil {
		return nil, fmt.Errorf("MQTT publisher is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("rpc client is required")
	}
	if opts.Invoker == nil {
		return nil, fmt.Errorf("invoker is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	b := &Bridge{
		pub:       opts.Publisher,
		client:    opts.Client,
		invoker:   opts.Invoker,
		metrics:   opts.Metrics,
		topics:    opts.Topics,
		address:   opts.Address,
		events:    make(chan rpc.Event, eventBuffer),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: cancel,
		logger:    logger,
	}
	if opts.CommandRate > 0 {
		burst := opts.CommandBurst
		if burst < 1 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(opts.CommandRate), burst)
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   opts.Version,
		Address:   opts.Address,
		Interval:  opts.HealthInterval,
		Topics:    opts.Topics,
		Publisher: opts.Publisher,
		Client:    opts.Client,
	})
	b.health.SetLogger(logger)
	return b, nil
}

// Start subscribes to client events and MQTT commands and begins health
// reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.log().Error("failed to publish starting status", "error", err)
	}

	b.subscribeOnce.Do(func() { b.client.Subscribe(b.onEvent) })

	b.wg.Add(1)
	go b.eventLoop()

	b.publishConnection(b.client.IsConnected())

	topic := b.topics.AllCommands()
	if err := b.pub.Subscribe(topic, commandQoS, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.log().Info("subscribed to commands", "topic", topic)

	b.health.Start(ctx)
	b.log().Info("observatory bridge started", "prefix", b.topics.Prefix(), "address", b.address)
	return nil
}

// Stop waits for in-flight commands to finish, then publishes a stopping
// health status. Commands received afterwards are rejected.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()

		close(b.done)
		b.ctxCancel()
		b.health.Stop()
		b.wg.Wait()

		b.log().Info("observatory bridge stopped")
	})
}

// Health returns the health reporter.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

func (b *Bridge) log() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// onEvent runs on the client session goroutine; it only queues.
func (b *Bridge) onEvent(ev rpc.Event) {
	if ev.Name == rpc.EventResponse {
		return
	}
	select {
	case <-b.done:
	case b.events <- ev:
	default:
		b.log().Warn("event dropped, MQTT publisher behind", "event", ev.Name)
	}
}

func (b *Bridge) eventLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case ev := <-b.events:
			b.publishEvent(ev)
		}
	}
}

func (b *Bridge) publishEvent(ev rpc.Event) {
	switch ev.Name {
	case rpc.EventConnected:
		b.publishConnection(true)
	case rpc.EventDisconnected:
		b.publishConnection(false)
	}

	msg := EventMessage{Event: ev.Name, Fields: ev.Fields, Timestamp: time.Now().UTC()}
	if err := b.publishJSON(b.topics.Event(ev.Name), msg, false); err != nil {
		b.log().Warn("failed to publish event", "event", ev.Name, "error", err)
	}
}

func (b *Bridge) publishConnection(connected bool) {
	state := rpc.StateDisconnected
	if connected {
		state = rpc.StateConnected
	}
	msg := ConnectionMessage{
		State:     state.String(),
		Address:   b.address,
		SessionID: b.client.Stats().SessionID,
		Timestamp: time.Now().UTC(),
	}
	if err := b.publishJSON(b.topics.ConnectionState(), msg, true); err != nil {
		b.log().Warn("failed to publish connection state", "error", err)
	}
	if b.metrics != nil {
		b.metrics.WriteConnectionState(connected)
	}
	if err := b.health.PublishNow(); err != nil {
		b.log().Warn("failed to publish health", "error", err)
	}
}

// handleCommand parses a command and executes it on its own goroutine so
// the MQTT client's delivery goroutine is never held for a full request
// timeout.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if cmd.RequestID == "" {
		cmd.RequestID = uuid.NewString()
	}
	origin := topic[strings.LastIndex(topic, "/")+1:]

	if strings.TrimSpace(cmd.Method) == "" {
		b.publishResponse(ResponseMessage{
			RequestID: cmd.RequestID,
			Error:     "method is required",
			Outcome:   string(journal.OutcomeRejected),
			Timestamp: time.Now().UTC(),
		})
		return fmt.Errorf("%w: no method (origin %s)", ErrInvalidCommand, origin)
	}

	if b.limiter != nil && !b.limiter.Allow() {
		b.publishResponse(ResponseMessage{
			RequestID: cmd.RequestID,
			Error:     "rate limit exceeded",
			Outcome:   string(journal.OutcomeRejected),
			Timestamp: time.Now().UTC(),
		})
		return fmt.Errorf("%w: %s from %s", ErrRateLimited, cmd.Method, origin)
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrStopped
	}
	b.wg.Add(1)
	b.mu.Unlock()

	b.log().Info("received command", "request_id", cmd.RequestID, "method", cmd.Method, "origin", origin)
	go func() {
		defer b.wg.Done()
		b.execute(cmd)
	}()
	return nil
}

func (b *Bridge) execute(cmd CommandMessage) {
	res, err := b.invoker.Invoke(b.ctx, dispatch.Request{
		Method:  cmd.Method,
		Params:  cmd.Params,
		Timeout: time.Duration(cmd.TimeoutMS) * time.Millisecond,
		Source:  journal.SourceMQTT,
	})

	msg := ResponseMessage{
		RequestID:  cmd.RequestID,
		OK:         err == nil,
		Result:     res.Value,
		Outcome:    string(res.Outcome),
		RPCID:      res.RequestID,
		DurationMS: res.Duration.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}
	if err != nil {
		msg.Error = errorText(err)
	}
	b.publishResponse(msg)
}

// errorText prefers the server's own message over the wrapped error.
func errorText(err error) string {
	var remote *rpc.RemoteError
	if errors.As(err, &remote) {
		return remote.Message
	}
	return err.Error()
}

func (b *Bridge) publishResponse(msg ResponseMessage) {
	if err := b.publishJSON(b.topics.Response(msg.RequestID), msg, false); err != nil {
		b.log().Error("failed to publish response", "request_id", msg.RequestID, "error", err)
	}
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.pub.Publish(topic, payload, commandQoS, retained)
}
