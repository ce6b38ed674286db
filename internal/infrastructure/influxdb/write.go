package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementDevice     = "device_metrics"
	MeasurementRPC        = "rpc_calls"
	MeasurementConnection = "connection"
)

// WriteDeviceMetric records one polled device value, for example
//
//	client.WriteDeviceMetric("focuser", "absolute_position", 12034)
func (c *Client) WriteDeviceMetric(device, key string, value float64) {
	c.WritePoint(MeasurementDevice,
		map[string]string{"device": device, "key": key},
		map[string]any{"value": value})
}

// WriteRPCCall records the latency and outcome of one client call.
func (c *Client) WriteRPCCall(method, outcome string, duration time.Duration) {
	c.WritePoint(MeasurementRPC,
		map[string]string{"method": method, "outcome": outcome},
		map[string]any{"duration_ms": float64(duration) / float64(time.Millisecond)})
}

// WriteConnectionState records a device server connect or disconnect.
func (c *Client) WriteConnectionState(connected bool) {
	up := int64(0)
	if connected {
		up = 1
	}
	c.WritePoint(MeasurementConnection, nil, map[string]any{"up": up})
}

// WritePoint writes a point stamped now. Dropped when not connected.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}
