package device

import "errors"

// Domain errors for the device package.
var (
	// ErrOutOfRange is returned when a position or binning value is outside
	// what the device supports.
	ErrOutOfRange = errors.New("device: value out of range")

	// ErrUnknownFilter is returned when a filter name is not installed.
	ErrUnknownFilter = errors.New("device: unknown filter")

	// ErrNoFrameSize is returned when the camera has not reported its sensor size.
	ErrNoFrameSize = errors.New("device: frame size unknown")

	// ErrNoExposure is returned by CheckExposure before any exposure was started.
	ErrNoExposure = errors.New("device: no exposure in progress")

	// ErrTrackingNotApplied is returned when the mount reports a tracking
	// state other than the one just requested.
	ErrTrackingNotApplied = errors.New("device: tracking state not applied")

	// ErrBadResult is returned when a reply is present but not shaped as expected.
	ErrBadResult = errors.New("device: unexpected result")
)
