package observatory

import "errors"

var (
	// ErrInvalidCommand is returned for command payloads that do not parse
	// or name no method.
	ErrInvalidCommand = errors.New("observatory: invalid command message")

	// ErrUnknownDevice is returned when a telemetry point names a device
	// the backend does not serve.
	ErrUnknownDevice = errors.New("observatory: unknown telemetry device")

	// ErrRateLimited is returned for commands arriving faster than the
	// configured command rate.
	ErrRateLimited = errors.New("observatory: command rate exceeded")

	// ErrStopped is returned for commands received after Stop.
	ErrStopped = errors.New("observatory: bridge stopped")
)
