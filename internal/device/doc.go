// Package device provides typed adapters for the instruments behind the
// device-control server: focuser, filter wheel, mount and camera.
//
// Each adapter wraps an rpc.Caller and turns the server's method/key
// conventions into ordinary Go methods with error returns:
//
//	foc := device.NewFocuser(client)
//	pos, err := foc.AbsolutePosition(ctx)
//	if err != nil {
//	    return err
//	}
//	err = foc.MoveAbsolute(ctx, pos+500)
//
// # Connection Tracking
//
// Adapters subscribe to the caller's events when constructed. The server
// announces readiness with a "Connection" event, which marks the adapter
// connected; a local Disconnected event clears it again.
//
// # Exposures
//
// Camera.StartExposure returns as soon as the take_image command is
// queued. The camera watches Response events for that request id and
// records the result's "complete" flag, which CheckExposure reports.
//
// # Thread Safety
//
// All adapters are safe for concurrent use.
package device
