package observatory

import (
	"time"

	"github.com/nerrad567/astrorpc/internal/rpc"
)

// CommandMessage is received on command/{origin}.
//
// Example:
//
//	{"request_id": "a1b2", "method": "mount_slew_radec", "params": {"params": {"ra": 5.5, "dec": -5.4}}}
//
// Params is merged into the top level of the outgoing frame, so adapters'
// {"params": {...}} envelope must be spelled out by the sender.
type CommandMessage struct {
	// RequestID correlates the response. Generated when empty.
	RequestID string `json:"request_id"`

	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`

	// TimeoutMS overrides the request timeout when positive.
	TimeoutMS int `json:"timeout_ms,omitempty"`
}

// ResponseMessage is published on response/{request_id}.
type ResponseMessage struct {
	RequestID string    `json:"request_id"`
	OK        bool      `json:"ok"`
	Result    rpc.Value `json:"result,omitzero"`
	Error     string    `json:"error,omitempty"`
	Outcome   string    `json:"outcome"`

	// RPCID is the id used on the device server connection, zero when the
	// command was rejected before being queued.
	RPCID      int64     `json:"rpc_id,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventMessage is published on event/{name} for every lifecycle and server
// event.
type EventMessage struct {
	Event     string               `json:"event"`
	Fields    map[string]rpc.Value `json:"fields,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// ConnectionMessage is published retained on state/connection.
type ConnectionMessage struct {
	State     string    `json:"state"`
	Address   string    `json:"address,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StateMessage is published retained on state/{device}/{key}.
type StateMessage struct {
	Device    string    `json:"device"`
	Key       string    `json:"key"`
	Value     rpc.Value `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthStatus is the operational status reported on the health topic.
type HealthStatus string

const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"

	// HealthDegraded means MQTT or the device server link is down.
	HealthDegraded HealthStatus = "degraded"

	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published retained on the health topic.
type HealthMessage struct {
	Status        HealthStatus      `json:"status"`
	Reason        string            `json:"reason,omitempty"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Connection    ConnectionMessage `json:"connection"`
	Statistics    Statistics        `json:"statistics"`
	Timestamp     time.Time         `json:"timestamp"`
}

// Statistics mirrors rpc.Stats for the health payload.
type Statistics struct {
	FramesRx     uint64     `json:"frames_rx"`
	FramesTx     uint64     `json:"frames_tx"`
	Malformed    uint64     `json:"malformed"`
	Duplicates   uint64     `json:"duplicates"`
	Evicted      uint64     `json:"evicted"`
	Dropped      uint64     `json:"dropped"`
	DialFailures uint64     `json:"dial_failures"`
	Reconnects   uint64     `json:"reconnects"`
	Pending      int        `json:"pending"`
	Queued       int        `json:"queued"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

func statisticsFrom(s rpc.Stats) Statistics {
	out := Statistics{
		FramesRx:     s.FramesRx,
		FramesTx:     s.FramesTx,
		Malformed:    s.Malformed,
		Duplicates:   s.Duplicates,
		Evicted:      s.Evicted,
		Dropped:      s.Dropped,
		DialFailures: s.DialFailures,
		Reconnects:   s.Reconnects,
		Pending:      s.Pending,
		Queued:       s.Queued,
	}
	if !s.LastActivity.IsZero() {
		at := s.LastActivity.UTC()
		out.LastActivity = &at
	}
	return out
}
