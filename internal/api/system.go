package api

import (
	"net/http"
	"time"
)

// StatusResponse describes the device server connection.
type StatusResponse struct {
	State        string     `json:"state"`
	Connected    bool       `json:"connected"`
	SessionID    string     `json:"session_id,omitempty"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
	Pending      int        `json:"pending"`
	Queued       int        `json:"queued"`

	// Breaker is the dispatch circuit state when the invoker reports one.
	Breaker string `json:"breaker,omitempty"`
}

// breakerReporter is implemented by *dispatch.Dispatcher.
type breakerReporter interface {
	BreakerState() string
}

// DeviceInfo is one enabled instrument.
type DeviceInfo struct {
	Kind      string `json:"kind"`
	Connected bool   `json:"connected"`
}

// handleHealth returns the server health status. The status is "degraded"
// while the device server is unreachable.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if !s.client.IsConnected() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
	})
}

// handleStatus returns the connection state and session details.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	stats := s.client.Stats()
	resp := StatusResponse{
		State:     stats.State.String(),
		Connected: s.client.IsConnected(),
		SessionID: stats.SessionID,
		Pending:   stats.Pending,
		Queued:    stats.Queued,
	}
	if !stats.LastActivity.IsZero() {
		t := stats.LastActivity.UTC()
		resp.LastActivity = &t
	}
	if b, ok := s.invoker.(breakerReporter); ok {
		resp.Breaker = b.BreakerState()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListDevices lists the enabled instruments.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := []DeviceInfo{}
	if s.devices != nil {
		for _, kind := range s.devices.Devices() {
			d, err := s.devices.Device(kind)
			if err != nil {
				continue
			}
			devices = append(devices, DeviceInfo{Kind: string(kind), Connected: d.Connected()})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}
