// Package api implements the HTTP REST API and WebSocket server for astrorpc.
//
// This package provides:
//   - REST endpoints to perform device server requests and read values
//   - Journal queries over recorded requests
//   - WebSocket hub relaying device server events in real time
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Endpoints
//
//	GET  /api/v1/health     liveness and version
//	GET  /api/v1/status     connection state, session statistics, breaker state
//	GET  /api/v1/metrics    runtime, WebSocket and connection metrics
//	GET  /api/v1/devices    enabled instruments and their link state
//	POST /api/v1/rpc        perform a request: {"method", "params", "timeout_ms"}
//	GET  /api/v1/values     read one result field: ?method=...&key=...
//	GET  /api/v1/journal    recorded requests: ?method=&outcome=&source=&limit=&offset=
//	GET  /api/v1/ws         WebSocket upgrade
//
// # WebSocket
//
// Clients subscribe to event names ("Connected", "Disconnected",
// "Connection", or any server event such as "NewImageReady"); "*" selects
// every event:
//
//	{"type": "subscribe", "id": "1", "payload": {"channels": ["*"]}}
//
// # Error mapping
//
// Failed requests map to HTTP statuses: an empty method is 400, a
// disconnected client, full queue or open circuit is 503, a timeout is 504
// and an error reported by the device server is 502.
package api
