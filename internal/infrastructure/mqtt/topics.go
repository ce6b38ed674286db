package mqtt

import "strings"

// DefaultTopicPrefix is the root of every astrorpc topic.
const DefaultTopicPrefix = "astrorpc"

// Topics builds astrorpc topic names under a common prefix.
//
//	t := mqtt.NewTopics("observatory/astrorpc")
//	t.Event("Connected")           // observatory/astrorpc/event/Connected
//	t.DeviceState("focuser", "absolute_position")
type Topics struct {
	prefix string
}

// NewTopics returns a builder for prefix. An empty prefix uses
// DefaultTopicPrefix; trailing slashes are dropped.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic root. The zero Topics uses DefaultTopicPrefix.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

func (t Topics) join(parts ...string) string {
	return t.Prefix() + "/" + strings.Join(parts, "/")
}

// Status is the retained online/offline topic, also used as the LWT.
func (t Topics) Status() string { return t.join("status") }

// Health is the retained health report topic.
func (t Topics) Health() string { return t.join("health") }

// Event is where a device server event named name is republished.
func (t Topics) Event(name string) string { return t.join("event", name) }

// ConnectionState is the retained device server connection state.
func (t Topics) ConnectionState() string { return t.join("state", "connection") }

// DeviceState is the retained telemetry value of one device field.
func (t Topics) DeviceState(device, key string) string { return t.join("state", device, key) }

// Command is the topic a caller named origin sends commands on.
func (t Topics) Command(origin string) string { return t.join("command", origin) }

// AllCommands matches every Command topic.
func (t Topics) AllCommands() string { return t.join("command", "+") }

// Response is where the reply to a command is published.
func (t Topics) Response(requestID string) string { return t.join("response", requestID) }
