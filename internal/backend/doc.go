// Package backend selects and builds the device backend astrorpc drives.
//
// A Registry maps backend names to factories. Registries are ordinary
// values: callers build one with NewRegistry (or Default, which has the
// RPC backend registered) and pass it where it is needed. Open always
// builds a fresh backend; nothing is cached between calls.
//
//	reg := backend.Default()
//	be, err := reg.Open("RPC", backend.Options{
//	    RPC:     backend.ClientConfig(cfg.RPC),
//	    Devices: []device.Kind{device.KindFocuser, device.KindMount},
//	})
//	if err != nil {
//	    return err
//	}
//	defer be.Disconnect()
//
// # RPC Backend
//
// The RPC backend gives every device its own rpc.Client and TCP session.
// With Options.Shared set, all devices share a single client instead.
package backend
