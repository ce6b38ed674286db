package rpc

import (
	"errors"
	"fmt"
)

// Domain errors for the rpc package.
var (
	// ErrNotConnected is returned when an operation requires a live session
	// but the client is not connected to the device server.
	ErrNotConnected = errors.New("rpc: not connected to device server")

	// ErrConnectionLost is returned by a session when the peer closes the
	// socket or a read/write fails. It never reaches callers of the Client.
	ErrConnectionLost = errors.New("rpc: connection lost")

	// ErrFrameTooLarge is returned when the inbound buffer grows past the
	// configured maximum without yielding a complete frame.
	ErrFrameTooLarge = errors.New("rpc: frame exceeds maximum size")

	// ErrMalformedFrame is returned when a frame is not a valid JSON object
	// or carries an id of an unexpected type.
	ErrMalformedFrame = errors.New("rpc: malformed frame")

	// ErrInvalidMethod is returned when a command is submitted without a method name.
	ErrInvalidMethod = errors.New("rpc: method name required")

	// ErrQueueFull is returned when the outbound command queue is at capacity.
	ErrQueueFull = errors.New("rpc: command queue full")

	// ErrTimeout is returned when no reply arrives before the timeout elapses.
	ErrTimeout = errors.New("rpc: timed out waiting for reply")

	// ErrNoResult is returned when a reply carries no result payload.
	ErrNoResult = errors.New("rpc: reply carried no result")

	// ErrMissingKey is returned when a result does not contain the requested key.
	ErrMissingKey = errors.New("rpc: result missing key")

	// ErrTypeMismatch is returned when a result value has an unexpected kind.
	ErrTypeMismatch = errors.New("rpc: unexpected value type")
)

// RemoteError is a reply whose "error" field was set by the server.
// It matches ErrNoResult under errors.Is.
type RemoteError struct {
	ID      int64
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("rpc: %s (request %d) failed: %s", e.Method, e.ID, e.Message)
	}
	return fmt.Sprintf("rpc: request %d failed: %s", e.ID, e.Message)
}

// Unwrap allows errors.Is(err, ErrNoResult).
func (e *RemoteError) Unwrap() error {
	return ErrNoResult
}
