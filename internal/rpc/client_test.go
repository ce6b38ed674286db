package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"
)

// mockServer is a minimal device-control server for tests.
type mockServer struct {
	ln       net.Listener
	accepted chan net.Conn
	frames   chan map[string]any
	respond  func(req map[string]any) string

	mu    sync.Mutex
	conns []net.Conn
	wg    sync.WaitGroup
}

func newMockServer(t *testing.T, respond func(req map[string]any) string) *mockServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	return startMockServer(t, ln, respond)
}

func startMockServer(t *testing.T, ln net.Listener, respond func(req map[string]any) string) *mockServer {
	t.Helper()
	s := &mockServer{
		ln:       ln,
		accepted: make(chan net.Conn, 8),
		frames:   make(chan map[string]any, 64),
		respond:  respond,
	}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

func (s *mockServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		select {
		case s.accepted <- conn:
		default:
		}

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *mockServer) serve(conn net.Conn) {
	defer s.wg.Done()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var req map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		select {
		case s.frames <- req:
		default:
		}
		if s.respond != nil {
			if line := s.respond(req); line != "" {
				_, _ = conn.Write([]byte(line))
			}
		}
	}
}

func (s *mockServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *mockServer) Close() {
	s.ln.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *mockServer) waitAccept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-s.accepted:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for client connection")
		return nil
	}
}

// reply builds a success response line for req.
func reply(req map[string]any, result string) string {
	return fmt.Sprintf("{\"id\":%v,\"result\":%s}\n", req["id"], result)
}

func testConfig(port int) Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           port,
		RetryDelay:     50 * time.Millisecond,
		PollInterval:   20 * time.Millisecond,
		RequestTimeout: time.Second,
		ConnectTimeout: time.Second,
	}
}

func connectedClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	client := New(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Disconnect() })
	return client
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// eventRecorder collects event names published on a client.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handle(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func TestClientGetValue(t *testing.T) {
	server := newMockServer(t, func(req map[string]any) string {
		if req["method"] == "get_current_temperature" {
			return reply(req, `{"current_temperature":-5.2}`)
		}
		return ""
	})
	client := connectedClient(t, testConfig(server.port()))

	v, err := client.GetValue(context.Background(), "get_current_temperature", "current_temperature", KindNumber)
	if err != nil {
		t.Fatalf("GetValue() error = %v", err)
	}
	if f, _ := v.Number(); f != -5.2 {
		t.Errorf("GetValue() = %v, want -5.2", v)
	}

	req := <-server.frames
	if req["id"] != float64(1) {
		t.Errorf("first request id = %v, want 1", req["id"])
	}
	if _, ok := req["params"]; ok {
		t.Error("parameterless request carried params")
	}
}

func TestClientTypedGetters(t *testing.T) {
	server := newMockServer(t, func(req map[string]any) string {
		return reply(req, `{"pos":12000,"temp":3.5,"name":"Ha","moving":false,"names":["L","R"]}`)
	})
	client := connectedClient(t, testConfig(server.port()))
	ctx := context.Background()

	if n, err := client.GetInt(ctx, "m", "pos"); err != nil || n != 12000 {
		t.Errorf("GetInt() = %d, %v", n, err)
	}
	if _, err := client.GetInt(ctx, "m", "temp"); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("GetInt(fractional) error = %v, want ErrTypeMismatch", err)
	}
	if s, err := client.GetText(ctx, "m", "name"); err != nil || s != "Ha" {
		t.Errorf("GetText() = %q, %v", s, err)
	}
	if b, err := client.GetBool(ctx, "m", "moving"); err != nil || b {
		t.Errorf("GetBool() = %v, %v", b, err)
	}
	if l, err := client.GetList(ctx, "m", "names"); err != nil || len(l) != 2 {
		t.Errorf("GetList() = %v, %v", l, err)
	}
	if _, err := client.GetNumber(ctx, "m", "name"); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("GetNumber(text) error = %v, want ErrTypeMismatch", err)
	}
	if _, err := client.GetNumber(ctx, "m", "absent"); !errors.Is(err, ErrMissingKey) {
		t.Errorf("GetNumber(absent) error = %v, want ErrMissingKey", err)
	}
}

// retryingClient returns a started client whose server never answers, so
// submitted commands stay queued.
func retryingClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	cfg.RetryDelay = 5 * time.Second
	client := New(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := client.Connect(ctx); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Connect() error = %v, want ErrNotConnected", err)
	}
	t.Cleanup(func() { client.Disconnect() })
	return client
}

func TestClientSubmitIDsIncrease(t *testing.T) {
	client := retryingClient(t, testConfig(1))

	var last int64
	for k := 0; k < 10; k++ {
		id, err := client.Submit("noop", nil)
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if id <= last {
			t.Fatalf("id %d not greater than previous %d", id, last)
		}
		last = id
	}
	if last != 10 {
		t.Errorf("10th id = %d, want 10", last)
	}

	if _, err := client.Submit("", nil); !errors.Is(err, ErrInvalidMethod) {
		t.Errorf("Submit(\"\") error = %v, want ErrInvalidMethod", err)
	}
}

func TestClientSubmitQueueFull(t *testing.T) {
	cfg := testConfig(1)
	cfg.QueueSize = 2
	client := retryingClient(t, cfg)

	for i := 0; i < 2; i++ {
		if _, err := client.Submit("noop", nil); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	if _, err := client.Submit("noop", nil); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Submit() on full queue error = %v, want ErrQueueFull", err)
	}
}

func TestClientAwaitReplyTimeout(t *testing.T) {
	server := newMockServer(t, nil)
	client := connectedClient(t, testConfig(server.port()))

	client.Submit("first", nil)
	id, err := client.Submit("never_answered", nil)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	start := time.Now()
	resp, err := client.AwaitReply(context.Background(), id, 200*time.Millisecond)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Errorf("AwaitReply() error = %v, want ErrTimeout", err)
	}
	if resp != nil {
		t.Errorf("AwaitReply() = %v, want nil", resp)
	}
	if elapsed < 200*time.Millisecond {
		t.Errorf("AwaitReply() returned after %v, before the timeout", elapsed)
	}
}

func TestClientAwaitReplyCancelled(t *testing.T) {
	server := newMockServer(t, nil)
	client := connectedClient(t, testConfig(server.port()))

	id, _ := client.Submit("never_answered", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.AwaitReply(ctx, id, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("AwaitReply() error = %v, want context.Canceled", err)
	}
}

func TestClientSetValueEnvelope(t *testing.T) {
	server := newMockServer(t, func(req map[string]any) string {
		return reply(req, `{}`)
	})
	client := connectedClient(t, testConfig(server.port()))

	if err := client.SetValue(context.Background(), "focuser_move_absolute_position", "absolute_position", 15000); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}

	req := <-server.frames
	params, ok := req["params"].(map[string]any)
	if !ok {
		t.Fatalf("request params = %v, want nested object", req["params"])
	}
	if params["absolute_position"] != float64(15000) {
		t.Errorf("params.absolute_position = %v, want 15000", params["absolute_position"])
	}
	if _, ok := req["absolute_position"]; ok {
		t.Error("parameter leaked to top level")
	}
}

func TestClientCommandEnvelope(t *testing.T) {
	server := newMockServer(t, func(req map[string]any) string {
		return reply(req, `{}`)
	})
	client := connectedClient(t, testConfig(server.port()))

	if err := client.Command(context.Background(), "mount_park", nil); err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	req := <-server.frames
	params, ok := req["params"].(map[string]any)
	if !ok || len(params) != 0 {
		t.Errorf("params = %v, want empty object", req["params"])
	}
}

func TestClientSubmitMergesTopLevel(t *testing.T) {
	server := newMockServer(t, nil)
	client := connectedClient(t, testConfig(server.port()))

	if _, err := client.Submit("raw", map[string]any{"a": 1, "b": "x"}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	req := <-server.frames
	if req["a"] != float64(1) || req["b"] != "x" || req["method"] != "raw" {
		t.Errorf("frame = %v", req)
	}
}

func TestClientRemoteError(t *testing.T) {
	server := newMockServer(t, func(req map[string]any) string {
		return fmt.Sprintf("{\"id\":%v,\"error\":\"focuser not connected\"}\n", req["id"])
	})
	client := connectedClient(t, testConfig(server.port()))

	err := client.SetValue(context.Background(), "focuser_move_absolute_position", "absolute_position", 1)
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("SetValue() error = %v, want *RemoteError", err)
	}
	if remote.Message != "focuser not connected" {
		t.Errorf("Message = %q", remote.Message)
	}
	if !errors.Is(err, ErrNoResult) {
		t.Error("RemoteError does not match ErrNoResult")
	}
}

func TestClientReplyWithoutResult(t *testing.T) {
	server := newMockServer(t, func(req map[string]any) string {
		return fmt.Sprintf("{\"id\":%v}\n", req["id"])
	})
	client := connectedClient(t, testConfig(server.port()))

	if _, err := client.GetValue(context.Background(), "m", "k"); !errors.Is(err, ErrNoResult) {
		t.Errorf("GetValue() error = %v, want ErrNoResult", err)
	}
	if err := client.SetValue(context.Background(), "m", "k", 1); !errors.Is(err, ErrNoResult) {
		t.Errorf("SetValue() error = %v, want ErrNoResult", err)
	}
}

func TestClientEventOnlyFrame(t *testing.T) {
	server := newMockServer(t, nil)
	client := New(testConfig(server.port()))

	got := make(chan Event, 4)
	client.Subscribe(func(ev Event) {
		if ev.Name == EventConnection {
			got <- ev
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	conn := server.waitAccept(t)
	conn.Write([]byte("{\"event\":\"Connection\",\"state\":\"ok\"}\n"))

	select {
	case ev := <-got:
		if s, _ := ev.Fields["state"].Text(); s != "ok" {
			t.Errorf("event fields = %v", ev.Fields)
		}
		if _, ok := ev.Fields["event"]; ok {
			t.Error("event name repeated in fields")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connection event not delivered")
	}

	if n := client.Stats().Pending; n != 0 {
		t.Errorf("Pending = %d, want 0 (events are not stored)", n)
	}
}

func TestClientGarbageInput(t *testing.T) {
	server := newMockServer(t, func(req map[string]any) string {
		return "not json at all\n{this is not json either}\n" + reply(req, `{"value":42}`)
	})
	client := connectedClient(t, testConfig(server.port()))

	v, err := client.GetValue(context.Background(), "m", "value", KindNumber)
	if err != nil {
		t.Fatalf("GetValue() error = %v", err)
	}
	if n, _ := v.Int(); n != 42 {
		t.Errorf("GetValue() = %v, want 42", v)
	}
	if client.Stats().Malformed == 0 {
		t.Error("Malformed = 0, want malformed frame counted")
	}
	if !client.IsConnected() {
		t.Error("garbage input dropped the connection")
	}
}

func TestClientDuplicateResponse(t *testing.T) {
	server := newMockServer(t, func(req map[string]any) string {
		return reply(req, `{"v":1}`) + reply(req, `{"v":2}`)
	})
	client := connectedClient(t, testConfig(server.port()))

	resp, err := client.Call(context.Background(), "m", nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if v, _ := resp.Get("v").Int(); v != 1 {
		t.Errorf("v = %d, want 1 (first reply wins)", v)
	}

	waitFor(t, "duplicate to be counted", func() bool { return client.Stats().Duplicates == 1 })
	if _, ok := client.Claim(resp.ID); ok {
		t.Error("duplicate reply was claimable")
	}
}

func TestClientDuplicateResponseEvents(t *testing.T) {
	server := newMockServer(t, func(req map[string]any) string {
		return reply(req, `{"v":1}`) + reply(req, `{"v":2}`)
	})
	client := New(testConfig(server.port()))
	events := &eventRecorder{}
	client.Subscribe(events.handle)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	id, _ := client.Submit("m", nil)
	waitFor(t, "two Response events", func() bool { return events.count(EventResponse) == 2 })

	resp, ok := client.Claim(id)
	if !ok {
		t.Fatal("reply not claimable")
	}
	if v, _ := resp.Get("v").Int(); v != 1 {
		t.Errorf("v = %d, want 1 (first reply wins)", v)
	}
}

func TestClientResponseEvent(t *testing.T) {
	server := newMockServer(t, func(req map[string]any) string {
		return reply(req, `{}`)
	})
	client := New(testConfig(server.port()))

	ids := make(chan int64, 4)
	client.Subscribe(func(ev Event) {
		if ev.Name == EventResponse {
			ids <- ev.RequestID
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	id, _ := client.Submit("m", nil)
	select {
	case got := <-ids:
		if got != id {
			t.Errorf("Response event id = %d, want %d", got, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Response event not published")
	}

	// The event does not claim the reply.
	if _, ok := client.Claim(id); !ok {
		t.Error("reply not claimable after Response event")
	}
}

func TestClientStaleRepliesEvicted(t *testing.T) {
	server := newMockServer(t, nil)
	cfg := testConfig(server.port())
	cfg.StaleAfter = 50 * time.Millisecond
	client := connectedClient(t, cfg)

	conn := server.waitAccept(t)
	conn.Write([]byte("{\"id\":100,\"result\":{}}\n"))

	waitFor(t, "stale reply eviction", func() bool { return client.Stats().Evicted == 1 })
	if _, ok := client.Claim(100); ok {
		t.Error("evicted reply still claimable")
	}
}

func TestClientReconnectAfterPeerClose(t *testing.T) {
	server := newMockServer(t, nil)
	client := New(testConfig(server.port()))

	events := &eventRecorder{}
	client.Subscribe(events.handle)

	// Block the session while it handles reply 500 so a command can be
	// queued before the drop is noticed.
	blocked := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	client.Subscribe(func(ev Event) {
		if ev.Name == EventResponse && ev.RequestID == 500 {
			once.Do(func() {
				close(blocked)
				<-release
			})
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Disconnect()

	first := server.waitAccept(t)
	first.Write([]byte("{\"id\":500,\"result\":{}}\n"))
	first.Close()

	<-blocked
	if _, err := client.Submit("queued_before_drop", nil); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	close(release)

	waitFor(t, "Disconnected event", func() bool { return events.count(EventDisconnected) == 1 })
	server.waitAccept(t)
	waitFor(t, "second Connected event", func() bool { return events.count(EventConnected) == 2 })

	if _, err := client.Submit("after_reconnect", nil); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case req := <-server.frames:
			switch req["method"] {
			case "queued_before_drop":
				t.Fatal("command queued before the drop was delivered after reconnect")
			case "after_reconnect":
				if stats := client.Stats(); stats.Reconnects != 1 {
					t.Errorf("Reconnects = %d, want 1", stats.Reconnects)
				}
				return
			}
		case <-deadline:
			t.Fatal("command after reconnect not delivered")
		}
	}
}

func TestClientConnectRetriesUntilServerUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)
	client := New(testConfig(port))
	defer client.Disconnect()

	connected := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		connected <- client.Connect(ctx)
	}()

	waitFor(t, "a failed dial", func() bool { return client.Stats().DialFailures > 0 })
	if client.State() != StateConnecting {
		t.Errorf("State() = %v, want connecting", client.State())
	}

	ln, err = net.Listen("tcp", addr)
	if err != nil {
		t.Skipf("port %s taken by another process: %v", addr, err)
	}
	startMockServer(t, ln, nil)

	select {
	case err := <-connected:
		if err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Connect() did not return after server came up")
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}
}

func TestClientDisconnectCancelsRetry(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	cfg := testConfig(port)
	cfg.RetryDelay = 5 * time.Second
	client := New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := client.Connect(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Connect() error = %v, want ErrNotConnected", err)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	start := time.Now()
	client.Disconnect()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Disconnect() took %v, retry wait was not cancelled", elapsed)
	}
	if client.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", client.State())
	}
}

func TestClientDisconnectPublishesEvent(t *testing.T) {
	server := newMockServer(t, nil)
	client := New(testConfig(server.port()))
	events := &eventRecorder{}
	client.Subscribe(events.handle)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Fatal("IsConnected() = false")
	}
	id1, _ := client.Submit("m", nil)
	client.Disconnect()

	if client.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}
	if n := events.count(EventDisconnected); n != 1 {
		t.Errorf("Disconnected events = %d, want 1", n)
	}

	if _, err := client.Submit("m", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Submit() after Disconnect error = %v, want ErrNotConnected", err)
	}

	// The client can be reconnected and ids keep counting.
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	defer client.Disconnect()
	id2, _ := client.Submit("m", nil)
	if id2 <= id1 {
		t.Errorf("id after reconnect = %d, want > %d", id2, id1)
	}
}

func TestClientSubmitAfterDisconnect(t *testing.T) {
	server := newMockServer(t, nil)
	client := connectedClient(t, testConfig(server.port()))
	server.waitAccept(t)

	client.Disconnect()
	if _, err := client.Submit("mount_slew_radec", map[string]any{"ra": 1.5}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Submit() after Disconnect error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	server.waitAccept(t)
	if _, err := client.Submit("after_reconnect", nil); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case req := <-server.frames:
			switch req["method"] {
			case "mount_slew_radec":
				t.Fatal("command submitted while disconnected reached the new session")
			case "after_reconnect":
				return
			}
		case <-deadline:
			t.Fatal("command after reconnect not delivered")
		}
	}
}

func TestManagerStartClearsStaleQueue(t *testing.T) {
	m := NewManager(Config{Host: "127.0.0.1", Port: 1}, NewResponseTable(), NewEventBus())
	// A command that slipped in after Stop cleared the queue.
	m.queue = append(m.queue, PendingCommand{Method: "stale", ID: 1, frame: []byte("{}\n")})

	m.Start()
	defer m.Stop()
	if n := m.Stats().Queued; n != 0 {
		t.Errorf("Queued after Start = %d, want 0", n)
	}
}

func TestClientSubmitUnencodableParams(t *testing.T) {
	server := newMockServer(t, nil)
	client := connectedClient(t, testConfig(server.port()))

	if _, err := client.Submit("set_temperature", map[string]any{"t": math.NaN()}); err == nil {
		t.Fatal("Submit() with NaN param should fail")
	}
	if n := client.Stats().Queued; n != 0 {
		t.Errorf("Queued = %d, want 0", n)
	}

	if _, err := client.Submit("after_bad", nil); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	select {
	case req := <-server.frames:
		if req["method"] != "after_bad" {
			t.Errorf("first frame method = %v, want after_bad", req["method"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command not delivered")
	}
}
