// Package influxdb writes astrorpc telemetry to InfluxDB v2.
//
// It wraps influxdb-client-go with connection management, batched
// non-blocking writes and a health check.
//
// # Measurements
//
//	device_metrics  tags device, key       field value        polled device values
//	rpc_calls       tags method, outcome   field duration_ms  call latency
//	connection      no tags                field up (0|1)     device server link
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDeviceMetric("focuser", "absolute_position", 12034)
//
// # Error Handling
//
// Writes never return errors; batch failures arrive on the SetOnError
// callback wrapped in ErrWriteFailed.
package influxdb
