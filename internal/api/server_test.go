package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/astrorpc/internal/device"
	"github.com/nerrad567/astrorpc/internal/dispatch"
	"github.com/nerrad567/astrorpc/internal/infrastructure/config"
	"github.com/nerrad567/astrorpc/internal/infrastructure/logging"
	"github.com/nerrad567/astrorpc/internal/journal"
	"github.com/nerrad567/astrorpc/internal/rpc"
)

// fakeClient is an in-memory rpc client.
type fakeClient struct {
	connected atomic.Bool
	stats     rpc.Stats

	mu       sync.Mutex
	handlers []rpc.Handler
	values   map[string]rpc.Value // method/key
	err      error
}

func newFakeClient() *fakeClient {
	c := &fakeClient{
		stats: rpc.Stats{
			State:        rpc.StateConnected,
			SessionID:    "s-1",
			FramesRx:     11,
			FramesTx:     9,
			Pending:      2,
			LastActivity: time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC),
		},
		values: make(map[string]rpc.Value),
	}
	c.connected.Store(true)
	return c
}

func (c *fakeClient) IsConnected() bool { return c.connected.Load() }
func (c *fakeClient) State() rpc.State { return c.stats.State }
func (c *fakeClient) Stats() rpc.Stats { return c.stats }
func (c *fakeClient) Subscribe(h rpc.Handler) {
	c.mu.Lock()
	c.handlers = append(c.handlers, h)
	c.mu.Unlock()
}

func (c *fakeClient) GetValue(_ context.Context, method, key string, _ ...rpc.Kind) (rpc.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return rpc.Value{}, c.err
	}
	v, ok := c.values[method+"/"+key]
	if !ok {
		return rpc.Value{}, fmt.Errorf("%w: %q", rpc.ErrMissingKey, key)
	}
	return v, nil
}

func (c *fakeClient) emit(ev rpc.Event) {
	c.mu.Lock()
	handlers := append([]rpc.Handler(nil), c.handlers...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// fakeInvoker answers by method name.
type fakeInvoker struct {
	mu   sync.Mutex
	last dispatch.Request
}

func (f *fakeInvoker) BreakerState() string { return "closed" }

func (f *fakeInvoker) Invoke(_ context.Context, req dispatch.Request) (dispatch.Result, error) {
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()

	switch req.Method {
	case "":
		return dispatch.Result{Outcome: journal.OutcomeRejected}, rpc.ErrInvalidMethod
	case "mount_park":
		return dispatch.Result{RequestID: 4, Outcome: journal.OutcomeError},
			&rpc.RemoteError{ID: 4, Method: req.Method, Message: "mount busy"}
	case "camera_start_exposure":
		return dispatch.Result{RequestID: 5, Outcome: journal.OutcomeTimeout},
			fmt.Errorf("%w: request 5", rpc.ErrTimeout)
	case "offline":
		return dispatch.Result{Outcome: journal.OutcomeRejected}, rpc.ErrNotConnected
	}
	return dispatch.Result{
		RequestID: 3,
		Value:     rpc.Object(map[string]rpc.Value{"absolute_position": rpc.Number(1200)}),
		Duration:  12 * time.Millisecond,
		Outcome:   journal.OutcomeOK,
	}, nil
}

func (f *fakeInvoker) request() dispatch.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// fakeJournal returns a fixed page and records the filter.
type fakeJournal struct {
	mu     sync.Mutex
	filter journal.Filter
	err    error
}

func (j *fakeJournal) Record(context.Context, *journal.Entry) error { return nil }

func (j *fakeJournal) List(_ context.Context, f journal.Filter) (*journal.ListResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.filter = f
	if j.err != nil {
		return nil, j.err
	}
	return &journal.ListResult{
		Entries: []journal.Entry{{ID: "e-1", Method: "focuser_stop", Outcome: journal.OutcomeOK, Source: journal.SourceAPI}},
		Total:   1,
		Limit:   f.Limit,
		Offset:  f.Offset,
	}, nil
}

func (j *fakeJournal) Prune(context.Context, time.Time) (int64, error) { return 0, nil }

type fakeDevice struct {
	kind      device.Kind
	connected bool
}

func (d fakeDevice) Kind() device.Kind { return d.kind }
func (d fakeDevice) Connected() bool { return d.connected }

type fakeDevices map[device.Kind]bool

func (f fakeDevices) Devices() []device.Kind {
	var kinds []device.Kind
	for _, k := range device.AllKinds {
		if _, ok := f[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (f fakeDevices) Device(kind device.Kind) (device.Device, error) {
	up, ok := f[kind]
	if !ok {
		return nil, errors.New("not enabled")
	}
	return fakeDevice{kind: kind, connected: up}, nil
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
}

func testServer(t *testing.T) (*Server, *fakeClient, *fakeInvoker, *fakeJournal) {
	t.Helper()
	client := newFakeClient()
	invoker := &fakeInvoker{}
	j := &fakeJournal{}
	srv, err := New(Deps{
		Config:  config.APIConfig{Host: "127.0.0.1", CORS: config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}}},
		WS:      config.WebSocketConfig{Path: "/ws", MaxMessageSize: 4096, PingInterval: 30, PongTimeout: 10},
		Logger:  testLogger(),
		Client:  client,
		Invoker: invoker,
		Journal: j,
		Devices: fakeDevices{device.KindFocuser: true, device.KindMount: false},
		Version: "1.0.0-test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, client, invoker, j
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestNewRequiresDependencies(t *testing.T) {
	client := newFakeClient()
	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Client: client, Invoker: &fakeInvoker{}}},
		{"no client", Deps{Logger: testLogger(), Invoker: &fakeInvoker{}}},
		{"no invoker", Deps{Logger: testLogger(), Client: client}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() succeeded, want error")
			}
		})
	}
}

func TestHealthAndStatus(t *testing.T) {
	srv, client, _, _ := testServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	health := decode[map[string]string](t, rec)
	if health["status"] != "ok" || health["version"] != "1.0.0-test" {
		t.Errorf("health = %v", health)
	}

	client.connected.Store(false)
	if got := decode[map[string]string](t, do(t, h, http.MethodGet, "/api/v1/health", ""))["status"]; got != "degraded" {
		t.Errorf("health while disconnected = %q, want degraded", got)
	}

	status := decode[StatusResponse](t, do(t, h, http.MethodGet, "/api/v1/status", ""))
	if status.State != "connected" || status.SessionID != "s-1" || status.Pending != 2 || status.Breaker != "closed" {
		t.Errorf("status = %+v", status)
	}
	if status.LastActivity == nil || !status.LastActivity.Equal(client.stats.LastActivity) {
		t.Errorf("last_activity = %v", status.LastActivity)
	}

	metrics := decode[SystemMetrics](t, do(t, h, http.MethodGet, "/api/v1/metrics", ""))
	if metrics.Connection.FramesRx != 11 || metrics.Connection.FramesTx != 9 || metrics.MQTT != nil {
		t.Errorf("metrics = %+v", metrics)
	}
}

func TestListDevices(t *testing.T) {
	srv, _, _, _ := testServer(t)

	got := decode[struct {
		Devices []DeviceInfo `json:"devices"`
		Count   int          `json:"count"`
	}](t, do(t, srv.Handler(), http.MethodGet, "/api/v1/devices", ""))

	want := []DeviceInfo{{Kind: "focuser", Connected: true}, {Kind: "mount", Connected: false}}
	if got.Count != 2 || len(got.Devices) != 2 || got.Devices[0] != want[0] || got.Devices[1] != want[1] {
		t.Errorf("devices = %+v", got)
	}
}

func TestCall(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"ok", `{"method":"focuser_get_absolute_position"}`, http.StatusOK, ""},
		{"invalid json", `{"method":`, http.StatusBadRequest, ErrCodeBadRequest},
		{"negative timeout", `{"method":"focuser_stop","timeout_ms":-1}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"empty method", `{"method":""}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"remote error", `{"method":"mount_park"}`, http.StatusBadGateway, ErrCodeRemote},
		{"timeout", `{"method":"camera_start_exposure","params":{"params":{"exptime":30}}}`, http.StatusGatewayTimeout, ErrCodeTimeout},
		{"not connected", `{"method":"offline"}`, http.StatusServiceUnavailable, ErrCodeUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _, _ := testServer(t)
			rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/rpc", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantCode != "" {
				if e := decode[Error](t, rec); e.Code != tt.wantCode {
					t.Errorf("code = %q, want %q", e.Code, tt.wantCode)
				}
			}
		})
	}
}

func TestCallResult(t *testing.T) {
	srv, _, invoker, _ := testServer(t)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/rpc",
		`{"method":"focuser_get_absolute_position","params":{"unit":"steps"},"timeout_ms":2500}`)
	resp := decode[CallResponse](t, rec)
	if resp.RequestID != 3 || resp.Outcome != "ok" || resp.DurationMS != 12 {
		t.Errorf("response = %+v", resp)
	}
	if pos, _ := resp.Result.Get("absolute_position").Number(); pos != 1200 {
		t.Errorf("result = %s", resp.Result)
	}

	req := invoker.request()
	if req.Source != journal.SourceAPI || req.Timeout != 2500*time.Millisecond || req.Params["unit"] != "steps" {
		t.Errorf("dispatched request = %+v", req)
	}

	rec = do(t, srv.Handler(), http.MethodPost, "/api/v1/rpc", `{"method":"mount_park"}`)
	if e := decode[Error](t, rec); e.Message != "mount busy" || e.RequestID != 4 {
		t.Errorf("remote error = %+v", e)
	}
}

func TestGetValue(t *testing.T) {
	srv, client, _, _ := testServer(t)
	client.values["focuser_get_absolute_position/absolute_position"] = rpc.Number(1200)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/values?method=focuser_get_absolute_position&key=absolute_position", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if v := decode[ValueResponse](t, rec); v.Key != "absolute_position" || v.Value.String() != "1200" {
		t.Errorf("value = %+v", v)
	}

	if rec := do(t, h, http.MethodGet, "/api/v1/values?method=focuser_get_absolute_position", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("missing key status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/values?method=focuser_get_absolute_position&key=nope", ""); rec.Code != http.StatusBadGateway {
		t.Errorf("absent key status = %d", rec.Code)
	}

	client.err = rpc.ErrNotConnected
	if rec := do(t, h, http.MethodGet, "/api/v1/values?method=a&key=b", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("disconnected status = %d", rec.Code)
	}
}

func TestListJournal(t *testing.T) {
	srv, _, _, j := testServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/journal?method=focuser_stop&outcome=ok&source=api&limit=10&offset=20", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	page := decode[journal.ListResult](t, rec)
	if page.Total != 1 || len(page.Entries) != 1 || page.Entries[0].ID != "e-1" {
		t.Errorf("page = %+v", page)
	}
	want := journal.Filter{Method: "focuser_stop", Outcome: journal.OutcomeOK, Source: "api", Limit: 10, Offset: 20}
	if j.filter != want {
		t.Errorf("filter = %+v, want %+v", j.filter, want)
	}

	for _, q := range []string{"outcome=maybe", "limit=-1", "offset=x"} {
		if rec := do(t, h, http.MethodGet, "/api/v1/journal?"+q, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}

	j.err = errors.New("disk I/O error")
	if rec := do(t, h, http.MethodGet, "/api/v1/journal", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("repository failure status = %d", rec.Code)
	}

	srv.journal = nil
	if rec := do(t, h, http.MethodGet, "/api/v1/journal", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("no journal status = %d", rec.Code)
	}
}

func TestMiddleware(t *testing.T) {
	srv, _, _, _ := testServer(t)
	h := srv.Handler()

	t.Run("request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
		req.Header.Set("X-Request-ID", "abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get("X-Request-ID"); got != "abc" {
			t.Errorf("X-Request-ID = %q", got)
		}
		if got := do(t, h, http.MethodGet, "/api/v1/health", "").Header().Get("X-Request-ID"); len(got) != 2*requestIDBytes {
			t.Errorf("generated id = %q", got)
		}
	})

	t.Run("cors", func(t *testing.T) {
		for origin, allowed := range map[string]bool{"http://localhost:3000": true, "http://evil.example": false} {
			req := httptest.NewRequest(http.MethodOptions, "/api/v1/rpc", nil)
			req.Header.Set("Origin", origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusNoContent {
				t.Errorf("%s: preflight status = %d", origin, rec.Code)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin") != ""; got != allowed {
				t.Errorf("%s: allowed = %v, want %v", origin, got, allowed)
			}
		}
	})

	t.Run("body limit", func(t *testing.T) {
		body := `{"method":"x","params":{"blob":"` + strings.Repeat("a", maxRequestBodySize) + `"}}`
		if rec := do(t, h, http.MethodPost, "/api/v1/rpc", body); rec.Code != http.StatusBadRequest {
			t.Errorf("oversized body status = %d", rec.Code)
		}
	})
}

func TestClassifyCallError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{rpc.ErrInvalidMethod, http.StatusBadRequest},
		{rpc.ErrQueueFull, http.StatusServiceUnavailable},
		{fmt.Errorf("wrap: %w", rpc.ErrConnectionLost), http.StatusServiceUnavailable},
		{dispatch.ErrCircuitOpen, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{&rpc.RemoteError{Message: "x"}, http.StatusBadGateway},
		{rpc.ErrTypeMismatch, http.StatusBadGateway},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := classifyCallError(tt.err); got != tt.want {
			t.Errorf("classifyCallError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readWS(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub has %d clients, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocketEventRelay(t *testing.T) {
	srv, client, _, _ := testServer(t)
	srv.relayEvents()
	srv.relayEvents()

	ws := dialWS(t, srv)
	waitClients(t, srv.Hub(), 1)

	if err := ws.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "sub-1", Payload: WSSubscribePayload{Channels: []string{"NewImageReady"}}}); err != nil {
		t.Fatal(err)
	}
	if resp := readWS(t, ws); resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}

	client.emit(rpc.Event{Name: rpc.EventResponse, RequestID: 9})
	client.emit(rpc.Event{Name: "Connection", Fields: map[string]rpc.Value{"status": rpc.Text("lost")}})
	client.emit(rpc.Event{Name: "NewImageReady", Fields: map[string]rpc.Value{"file_path": rpc.Text("/data/m31.fits")}})

	ev := readWS(t, ws)
	if ev.Type != WSTypeEvent || ev.EventType != "NewImageReady" {
		t.Fatalf("event = %+v", ev)
	}
	payload, _ := ev.Payload.(map[string]any)
	if payload["file_path"] != "/data/m31.fits" {
		t.Errorf("payload = %v", ev.Payload)
	}

	// The relay subscribed once despite two calls.
	client.mu.Lock()
	n := len(client.handlers)
	client.mu.Unlock()
	if n != 1 {
		t.Errorf("relay handlers = %d, want 1", n)
	}
}

func TestWebSocketWildcardAndUnsubscribe(t *testing.T) {
	srv, _, _, _ := testServer(t)
	ws := dialWS(t, srv)
	waitClients(t, srv.Hub(), 1)

	//nolint:errcheck // test write
	ws.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{WSChannelAll}}})
	readWS(t, ws)

	srv.Hub().Broadcast(rpc.EventDisconnected, nil)
	if ev := readWS(t, ws); ev.EventType != rpc.EventDisconnected {
		t.Errorf("event = %+v", ev)
	}

	//nolint:errcheck // test write
	ws.WriteJSON(WSMessage{Type: WSTypeUnsubscribe, ID: "2", Payload: WSSubscribePayload{Channels: []string{WSChannelAll}}})
	if resp := readWS(t, ws); resp.ID != "2" || resp.Type != WSTypeResponse {
		t.Fatalf("unsubscribe response = %+v", resp)
	}

	srv.Hub().Broadcast(rpc.EventConnected, nil)
	//nolint:errcheck // test write
	ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "3"})
	if resp := readWS(t, ws); resp.Type != WSTypePong || resp.ID != "3" {
		t.Errorf("after unsubscribe got %+v, want pong", resp)
	}
}

func TestWebSocketInvalidMessages(t *testing.T) {
	srv, _, _, _ := testServer(t)
	ws := dialWS(t, srv)

	tests := []struct {
		name string
		msg  string
	}{
		{"invalid json", `{`},
		{"unknown type", `{"type":"shout","id":"x"}`},
		{"missing payload", `{"type":"subscribe","id":"y"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(tt.msg)); err != nil {
				t.Fatal(err)
			}
			if resp := readWS(t, ws); resp.Type != WSTypeError {
				t.Errorf("response = %+v, want error", resp)
			}
		})
	}
}

func TestStartClose(t *testing.T) {
	srv, _, _, _ := testServer(t)
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start succeeded")
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() succeeded")
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if _, err := http.Get("http://" + srv.Addr() + "/api/v1/health"); err == nil {
		t.Error("server still answering after Close")
	}
}
