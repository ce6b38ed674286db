// Package observatory bridges the device server connection to MQTT.
//
// Topics, relative to the configured prefix (default "astrorpc"):
//
//	event/{name}            lifecycle and server events           QoS 1
//	state/connection        device server link state              QoS 1, retained
//	state/{device}/{key}    polled telemetry values               QoS 1, retained
//	command/{origin}        commands to execute (subscribed)      QoS 1
//	response/{request_id}   command outcomes                      QoS 1
//	health                  bridge health and connection stats    QoS 1, retained
//
// # Commands
//
// A command names a device server method and its parameters:
//
//	{"request_id": "r-17", "method": "focuser_move_absolute_position",
//	 "params": {"params": {"absolute_position": 12000}}}
//
// Each command runs on its own goroutine through a dispatch.Invoker, which
// journals it; the outcome is published on response/{request_id}:
//
//	{"request_id": "r-17", "ok": true, "result": {}, "outcome": "ok",
//	 "rpc_id": 42, "duration_ms": 31, "timestamp": "..."}
//
// # Telemetry
//
// A Poller reads configured {device, method, key} points and publishes
// values that changed since the previous poll. Numeric and boolean values
// are also written to InfluxDB.
//
// # Health
//
// The HealthReporter publishes healthy, or degraded with a reason when
// MQTT or the device server is unreachable, every health interval and a
// final stopping status on shutdown.
package observatory
