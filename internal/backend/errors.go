package backend

import "errors"

var (
	// ErrUnknownBackend is returned by Open for a name nobody registered.
	ErrUnknownBackend = errors.New("backend: unknown backend")

	// ErrDuplicateBackend is returned when a name is registered twice.
	ErrDuplicateBackend = errors.New("backend: already registered")

	// ErrDeviceNotEnabled is returned for a device kind the backend was not
	// opened with.
	ErrDeviceNotEnabled = errors.New("backend: device not enabled")
)
