package rpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// PendingCommand is a request waiting to be written to the socket.
type PendingCommand struct {
	Method string
	ID     int64
	Params map[string]any

	// frame is the encoded wire form, filled in by Enqueue.
	frame []byte
}

// Manager supervises the connection to the device-control server.
//
// It dials the server, runs one session per live connection, and after
// any connection loss discards the socket, the inbound buffer and every
// queued command before dialling again. Dial failures are retried
// forever with a fixed delay; only Stop ends the loop.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Event handlers run on the manager goroutine.
type Manager struct {
	cfg   Config
	table *ResponseTable
	bus   *EventBus

	// Lifecycle, guarded by lifeMu.
	lifeMu  sync.Mutex
	cancel  context.CancelFunc
	running bool

	// accepting gates Enqueue between Start and Stop. It is atomic so
	// event handlers can submit while Stop holds lifeMu.
	accepting atomic.Bool

	// Connection state, guarded by mu. stateChanged is closed and
	// replaced on every transition so waiters need no polling.
	mu           sync.Mutex
	state        State
	stateChanged chan struct{}
	sessionID    string

	// Outbound queue, guarded by queueMu. queueSignal wakes the session.
	queueMu     sync.Mutex
	queue       []PendingCommand
	queueSignal chan struct{}

	wg sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	framesRx     atomic.Uint64
	framesTx     atomic.Uint64
	malformed    atomic.Uint64
	duplicates   atomic.Uint64
	evicted      atomic.Uint64
	dropped      atomic.Uint64
	dialFailures atomic.Uint64
	sessions     atomic.Uint64
	lastActivity atomic.Int64 // Unix nanoseconds
}

// NewManager creates a stopped manager that records replies in table and
// publishes events on bus.
func NewManager(cfg Config, table *ResponseTable, bus *EventBus) *Manager {
	return &Manager{
		cfg:          cfg.withDefaults(),
		table:        table,
		bus:          bus,
		stateChanged: make(chan struct{}),
		queueSignal:  make(chan struct{}, 1),
		logger:       noopLogger{},
	}
}

// SetLogger sets the logger for connection lifecycle and wire traffic.
func (m *Manager) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.loggerMu.Lock()
	m.logger = logger
	m.loggerMu.Unlock()
}

func (m *Manager) log() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	return m.logger
}

// Start launches the background connection loop. It does nothing if the
// loop is already running.
func (m *Manager) Start() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.running {
		return
	}

	// Anything left from a previous run belongs to a closed session.
	m.clearQueue()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true
	m.accepting.Store(true)

	m.wg.Add(1)
	go m.run(ctx)
}

// Stop cancels the connection loop, including any retry wait in
// progress, and waits for it to exit. Safe to call multiple times.
func (m *Manager) Stop() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	m.accepting.Store(false)
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.wg.Wait()
	m.running = false
	m.clearQueue()
}

// Running reports whether the background loop has been started.
func (m *Manager) Running() bool {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	return m.running
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// WaitConnected blocks until the state is Connected or ctx is done.
func (m *Manager) WaitConnected(ctx context.Context) error {
	for {
		m.mu.Lock()
		if m.state == StateConnected {
			m.mu.Unlock()
			return nil
		}
		changed := m.stateChanged
		m.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrNotConnected, ctx.Err())
		}
	}
}

func (m *Manager) setState(s State, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == s && m.sessionID == sessionID {
		return
	}
	m.state = s
	m.sessionID = sessionID
	close(m.stateChanged)
	m.stateChanged = make(chan struct{})
}

// Enqueue encodes a command and adds it to the outbound queue. Commands
// are written in the order they were queued. Commands still queued when
// the connection drops are discarded.
//
// It returns ErrNotConnected while the manager is stopped, and the
// encoding error when the parameters cannot be serialised.
func (m *Manager) Enqueue(cmd PendingCommand) error {
	if cmd.Method == "" {
		return ErrInvalidMethod
	}
	if !m.accepting.Load() {
		return fmt.Errorf("%w: client is stopped", ErrNotConnected)
	}
	frame, err := EncodeCommand(cmd.Method, cmd.ID, cmd.Params)
	if err != nil {
		return err
	}
	cmd.frame = frame

	m.queueMu.Lock()
	if len(m.queue) >= m.cfg.QueueSize {
		m.queueMu.Unlock()
		return ErrQueueFull
	}
	m.queue = append(m.queue, cmd)
	m.queueMu.Unlock()

	select {
	case m.queueSignal <- struct{}{}:
	default:
	}
	return nil
}

// takeQueue removes and returns everything queued.
func (m *Manager) takeQueue() []PendingCommand {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	cmds := m.queue
	m.queue = nil
	return cmds
}

// clearQueue discards queued commands and returns how many were dropped.
func (m *Manager) clearQueue() int {
	n := len(m.takeQueue())
	if n > 0 {
		m.dropped.Add(uint64(n))
	}
	return n
}

// run is the connection loop: dial, run a session, repeat.
func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	defer m.setState(StateDisconnected, "")

	m.log().Info("connection manager started", "address", m.cfg.Address())

	for {
		conn := m.dial(ctx)
		if conn == nil {
			m.log().Info("connection manager stopped")
			return
		}

		s := newSession(m, conn)
		if m.sessions.Add(1) > 1 {
			m.log().Info("reconnected to device server", "session", s.id)
		}

		err := s.run(ctx)
		if ctx.Err() != nil {
			m.log().Info("connection manager stopped")
			return
		}
		m.log().Error("connection lost", "session", s.id, "error", err)
	}
}

// dial attempts to connect until it succeeds or ctx is cancelled, which
// returns nil. Every failure waits RetryDelay before the next attempt.
func (m *Manager) dial(ctx context.Context) net.Conn {
	address := m.cfg.Address()
	m.setState(StateConnecting, "")

	for attempt := 1; ; attempt++ {
		conn, err := m.dialWithTimeout(ctx, address)
		if err == nil {
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}

		m.dialFailures.Add(1)
		m.log().Warn("failed to connect to device server",
			"address", address, "attempt", attempt, "retry_in", m.cfg.RetryDelay.String(), "error", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(m.cfg.RetryDelay):
		}
	}
}

// dialWithTimeout attempts one TCP connection bounded by ConnectTimeout.
func (m *Manager) dialWithTimeout(ctx context.Context, address string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial tcp://%s: %w", address, err)
	}
	return conn, nil
}

func (m *Manager) touch() {
	m.lastActivity.Store(time.Now().UnixNano())
}

// Stats returns a snapshot of operational statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	state, sessionID := m.state, m.sessionID
	m.mu.Unlock()

	m.queueMu.Lock()
	queued := len(m.queue)
	m.queueMu.Unlock()

	var last time.Time
	if ns := m.lastActivity.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}

	var reconnects uint64
	if n := m.sessions.Load(); n > 1 {
		reconnects = n - 1
	}

	return Stats{
		State:        state,
		SessionID:    sessionID,
		FramesRx:     m.framesRx.Load(),
		FramesTx:     m.framesTx.Load(),
		Malformed:    m.malformed.Load(),
		Duplicates:   m.duplicates.Load(),
		Evicted:      m.evicted.Load(),
		Dropped:      m.dropped.Load(),
		DialFailures: m.dialFailures.Load(),
		Reconnects:   reconnects,
		Pending:      m.table.Len(),
		Queued:       queued,
		LastActivity: last,
	}
}
