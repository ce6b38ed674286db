package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	WebSocket     WSMetrics         `json:"websocket"`
	MQTT          *MQTTMetrics      `json:"mqtt,omitempty"`
	Connection    ConnectionMetrics `json:"connection"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// ConnectionMetrics contains device server session counters.
type ConnectionMetrics struct {
	State        string `json:"state"`
	FramesRx     uint64 `json:"frames_rx"`
	FramesTx     uint64 `json:"frames_tx"`
	Malformed    uint64 `json:"malformed"`
	Duplicates   uint64 `json:"duplicates"`
	Evicted      uint64 `json:"evicted"`
	Dropped      uint64 `json:"dropped"`
	DialFailures uint64 `json:"dial_failures"`
	Reconnects   uint64 `json:"reconnects"`
	Pending      int    `json:"pending"`
	Queued       int    `json:"queued"`
}

// handleMetrics returns runtime and connection metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := s.client.Stats()
	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Connection: ConnectionMetrics{
			State:        stats.State.String(),
			FramesRx:     stats.FramesRx,
			FramesTx:     stats.FramesTx,
			Malformed:    stats.Malformed,
			Duplicates:   stats.Duplicates,
			Evicted:      stats.Evicted,
			Dropped:      stats.Dropped,
			DialFailures: stats.DialFailures,
			Reconnects:   stats.Reconnects,
			Pending:      stats.Pending,
			Queued:       stats.Queued,
		},
	}

	if s.mqtt != nil {
		metrics.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}

	writeJSON(w, http.StatusOK, metrics)
}
