// Package logging provides structured logging for astrorpc.
//
// This package wraps Go's standard log/slog package so every component
// (rpc client, device adapters, MQTT bridge, HTTP API, process supervisor)
// logs with the same fields and format.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Wire traffic (every frame sent or received) is logged at debug level.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	client.SetLogger(logger.Component("rpc"))
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
