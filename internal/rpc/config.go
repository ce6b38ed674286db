package rpc

import (
	"net"
	"strconv"
	"time"
)

// Defaults for the device-control server connection.
const (
	// DefaultHost is the address of the local device-control server.
	DefaultHost = "127.0.0.1"

	// DefaultPort is the TCP port the device-control server listens on.
	DefaultPort = 8800

	// defaultRetryDelay is the fixed delay between failed dial attempts.
	defaultRetryDelay = 5 * time.Second

	// defaultPollInterval bounds how long the session loop sleeps between
	// housekeeping passes.
	defaultPollInterval = 500 * time.Millisecond

	// defaultRequestTimeout is how long AwaitReply waits when no timeout is given.
	defaultRequestTimeout = 15 * time.Second

	// defaultConnectTimeout is the maximum time for a single dial attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultWriteTimeout is the deadline for writing one frame.
	defaultWriteTimeout = 5 * time.Second

	// defaultStaleAfter is how long an unclaimed reply is kept: four times
	// the default request timeout.
	defaultStaleAfter = 4 * defaultRequestTimeout

	// defaultQueueSize is the capacity of the outbound command queue.
	defaultQueueSize = 256

	// defaultMaxFrameSize caps the inbound buffer while waiting for a newline.
	defaultMaxFrameSize = 1 << 20

	// readBufferSize is the size of each socket read.
	readBufferSize = 4096
)

// Config holds client connection settings. Zero fields take defaults.
type Config struct {
	// Host and Port locate the device-control server.
	// Default: 127.0.0.1:8800.
	Host string
	Port int

	// RetryDelay is the fixed wait after a failed dial. There is no
	// backoff and no retry limit.
	// Default: 5 seconds.
	RetryDelay time.Duration

	// PollInterval is the session housekeeping interval.
	// Default: 500 milliseconds.
	PollInterval time.Duration

	// RequestTimeout is the default reply timeout.
	// Default: 15 seconds.
	RequestTimeout time.Duration

	// ConnectTimeout bounds one dial attempt.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// WriteTimeout bounds writing one frame.
	// Default: 5 seconds.
	WriteTimeout time.Duration

	// StaleAfter is how long unclaimed replies are retained.
	// Default: 60 seconds.
	StaleAfter time.Duration

	// QueueSize is the outbound queue capacity.
	// Default: 256.
	QueueSize int

	// MaxFrameSize is the largest inbound frame accepted, in bytes.
	// Default: 1 MiB.
	MaxFrameSize int
}

// withDefaults returns a copy of c with zero fields filled in.
func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaultStaleAfter
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = defaultMaxFrameSize
	}
	return c
}

// Address returns the host:port to dial.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// State is the connection state owned by the Manager.
type State int32

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Stats holds operational statistics.
type Stats struct {
	State        State
	SessionID    string // Empty when no session is live
	FramesRx     uint64
	FramesTx     uint64
	Malformed    uint64 // Frames that failed to decode or were neither response nor event
	Duplicates   uint64 // Replies dropped because their id was already known
	Evicted      uint64 // Unclaimed replies removed by the stale sweep
	Dropped      uint64 // Queued commands discarded on disconnect
	DialFailures uint64
	Reconnects   uint64 // Sessions established after the first
	Pending      int    // Unclaimed replies currently held
	Queued       int    // Commands waiting to be written
	LastActivity time.Time
}
