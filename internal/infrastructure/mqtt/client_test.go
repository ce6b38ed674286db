package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/astrorpc/internal/infrastructure/config"
)

// testConfig points at a local Mosquitto on 127.0.0.1:1883.
func testConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// connectOrSkip connects to the local broker, skipping the test when
// none is listening.
func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", "127.0.0.1:1883", 500*time.Millisecond)
	if err != nil {
		t.Skipf("no MQTT broker on 127.0.0.1:1883: %v", err)
	}
	conn.Close()

	c, err := Connect(testConfig(clientID), NewTopics("astrorpc-test"))
	if err != nil {
		t.Skipf("MQTT broker unavailable: %v", err)
	}
	t.Cleanup(func() { c.Close() }) //nolint:errcheck // Test cleanup
	return c
}

func TestTopics(t *testing.T) {
	tp := NewTopics("")
	tests := []struct {
		got  string
		want string
	}{
		{tp.Status(), "astrorpc/status"},
		{tp.Health(), "astrorpc/health"},
		{tp.Event("Connected"), "astrorpc/event/Connected"},
		{tp.ConnectionState(), "astrorpc/state/connection"},
		{tp.DeviceState("focuser", "absolute_position"), "astrorpc/state/focuser/absolute_position"},
		{tp.Command("nina"), "astrorpc/command/nina"},
		{tp.AllCommands(), "astrorpc/command/+"},
		{tp.Response("req-42"), "astrorpc/response/req-42"},
		{NewTopics("obs/roof/").Event("Connection"), "obs/roof/event/Connection"},
		{Topics{}.Status(), "astrorpc/status"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestBrokerURL(t *testing.T) {
	cfg := testConfig("x")
	if got := brokerURL(cfg); got != "tcp://127.0.0.1:1883" {
		t.Errorf("brokerURL() = %q", got)
	}
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	if got := brokerURL(cfg); got != "ssl://127.0.0.1:8883" {
		t.Errorf("brokerURL() with TLS = %q", got)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig("astrorpc-opts")
	cfg.Auth = config.MQTTAuthConfig{Username: "obs", Password: "secret"}
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)
	if opts.ClientID != "astrorpc-opts" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "obs" || opts.Password != "secret" {
		t.Error("credentials not applied")
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("expected auto-reconnect and clean session")
	}
	if opts.TLSConfig == nil {
		t.Error("TLS config not set")
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v", opts.MaxReconnectInterval)
	}
}

func TestStatusPayload(t *testing.T) {
	var msg statusMessage
	if err := json.Unmarshal([]byte(statusPayload("astrorpc", "offline", "graceful_shutdown")), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Status != "offline" || msg.ClientID != "astrorpc" || msg.Reason != "graceful_shutdown" {
		t.Errorf("status = %+v", msg)
	}
	if _, err := time.Parse(time.RFC3339, msg.Timestamp); err != nil {
		t.Errorf("timestamp %q: %v", msg.Timestamp, err)
	}
}

func TestValidationWithoutBroker(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"publish empty topic", c.Publish("", nil, 0, false), ErrInvalidTopic},
		{"publish bad qos", c.Publish("a", nil, 3, false), ErrInvalidQoS},
		{"publish too large", c.Publish("a", make([]byte, maxPayloadSize+1), 0, false), ErrPublishFailed},
		{"publish disconnected", c.Publish("a", []byte("x"), 0, false), ErrNotConnected},
		{"subscribe nil handler", c.Subscribe("a", 0, nil), ErrSubscribeFailed},
		{"subscribe disconnected", c.Subscribe("a", 0, noop), ErrNotConnected},
		{"unsubscribe empty", c.Unsubscribe(""), ErrInvalidTopic},
		{"health", c.HealthCheck(context.Background()), ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("error = %v, want %v", tt.err, tt.want)
			}
		})
	}
	if c.IsConnected() {
		t.Error("zero client reports connected")
	}
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() on unconnected client = %v", err)
	}
}

func TestConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	cfg := testConfig("astrorpc-refused")
	cfg.Broker.Port = port
	if _, err := Connect(cfg, NewTopics("")); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	c := connectOrSkip(t, fmt.Sprintf("astrorpc-rt-%d", time.Now().UnixNano()))
	topic := c.Topics().Event("RoundTrip")

	var (
		mu  sync.Mutex
		got []byte
	)
	received := make(chan struct{}, 1)
	err := c.Subscribe(topic, 1, func(_ string, payload []byte) error {
		mu.Lock()
		got = append([]byte(nil), payload...)
		mu.Unlock()
		select {
		case received <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !c.HasSubscription(topic) || c.SubscriptionCount() != 1 {
		t.Error("subscription not tracked")
	}

	if err := c.PublishJSON(topic, map[string]any{"event": "RoundTrip"}, false); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
	mu.Lock()
	defer mu.Unlock()
	if string(got) != `{"event":"RoundTrip"}` {
		t.Errorf("payload = %s", got)
	}

	if err := c.Unsubscribe(topic); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if c.HasSubscription(topic) {
		t.Error("subscription still tracked after Unsubscribe")
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	c := connectOrSkip(t, fmt.Sprintf("astrorpc-panic-%d", time.Now().UnixNano()))
	topic := c.Topics().Event("Panic")
	logger := &recordingLogger{}
	c.SetLogger(logger)

	done := make(chan struct{})
	var once sync.Once
	err := c.Subscribe(topic, 1, func(string, []byte) error {
		defer once.Do(func() { close(done) })
		panic("boom")
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Publish(topic, []byte("x"), 1, false); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler not invoked")
	}

	deadline := time.Now().Add(time.Second)
	for logger.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if logger.count() == 0 {
		t.Error("panic not logged")
	}
	if !c.IsConnected() {
		t.Error("client disconnected after handler panic")
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	errors int
}

func (l *recordingLogger) Error(string, ...any) {
	l.mu.Lock()
	l.errors++
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(string, ...any) {}

func (l *recordingLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errors
}
