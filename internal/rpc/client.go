package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Caller is the request surface device adapters depend on.
// *Client implements it; tests substitute fakes.
type Caller interface {
	Submit(method string, params map[string]any) (int64, error)
	AwaitReply(ctx context.Context, id int64, timeout time.Duration) (*Response, error)
	Claim(id int64) (*Response, bool)
	Call(ctx context.Context, method string, params map[string]any) (*Response, error)
	GetValue(ctx context.Context, method, key string, kinds ...Kind) (Value, error)
	SetValue(ctx context.Context, method, key string, value any) error
	Command(ctx context.Context, method string, params map[string]any) error
	Subscribe(h Handler)
	IsConnected() bool
}

// Ensure Client implements Caller.
var _ Caller = (*Client)(nil)

// Client is the request/response API over one managed connection.
//
// Request ids are allocated sequentially from 1 and never reused for the
// lifetime of the Client, across any number of reconnects.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Event handlers must not call Disconnect; they run on the
//     connection goroutine that Disconnect waits for.
type Client struct {
	cfg   Config
	mgr   *Manager
	table *ResponseTable
	bus   *EventBus

	nextID atomic.Int64

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a disconnected client. Call Connect to start the session.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	table := NewResponseTable()
	bus := NewEventBus()
	return &Client{
		cfg:    cfg,
		mgr:    NewManager(cfg, table, bus),
		table:  table,
		bus:    bus,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the client and its connection manager.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
	c.mgr.SetLogger(logger)
	c.bus.SetLogger(logger)
}

func (c *Client) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// Config returns the effective configuration, defaults applied.
func (c *Client) Config() Config {
	return c.cfg
}

// Connect starts the connection manager if it is not running and blocks
// until the session is established or ctx is done. The manager keeps
// retrying in the background even when ctx expires first.
func (c *Client) Connect(ctx context.Context) error {
	c.mgr.Start()
	if err := c.mgr.WaitConnected(ctx); err != nil {
		c.log().Warn("still waiting for device server", "address", c.cfg.Address(), "error", err)
		return err
	}
	return nil
}

// Disconnect stops the connection manager and closes the socket.
// Queued commands are discarded. Connect may be called again later.
func (c *Client) Disconnect() error {
	c.mgr.Stop()
	return nil
}

// IsConnected reports whether a session is live.
func (c *Client) IsConnected() bool {
	return c.mgr.State() == StateConnected
}

// State returns the connection state.
func (c *Client) State() State {
	return c.mgr.State()
}

// HealthCheck returns ErrNotConnected unless a session is live.
func (c *Client) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Stats returns connection statistics.
func (c *Client) Stats() Stats {
	return c.mgr.Stats()
}

// Subscribe registers h for lifecycle, response and server events.
func (c *Client) Subscribe(h Handler) {
	c.bus.Subscribe(h)
}

// Submit queues a command and returns its request id without waiting.
//
// params is merged into the top level of the frame and encoded here, so
// an unencodable value fails the call instead of the write. While the
// client is connecting, commands wait for the session; after Disconnect
// Submit returns ErrNotConnected until Connect is called again.
func (c *Client) Submit(method string, params map[string]any) (int64, error) {
	if method == "" {
		return 0, ErrInvalidMethod
	}
	id := c.nextID.Add(1)
	if err := c.mgr.Enqueue(PendingCommand{Method: method, ID: id, Params: params}); err != nil {
		c.log().Error("failed to queue command", "method", method, "id", id, "error", err)
		return 0, err
	}
	return id, nil
}

// AwaitReply blocks until the reply for id arrives, timeout elapses, or
// ctx is done. A zero timeout uses the configured RequestTimeout. The
// reply is claimed: a second AwaitReply for the same id will time out.
func (c *Client) AwaitReply(ctx context.Context, id int64, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		timeout = c.cfg.RequestTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.table.Await(waitCtx, id)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log().Error("timed out waiting for reply", "id", id, "timeout", timeout.String())
		return nil, fmt.Errorf("%w: request %d after %s", ErrTimeout, id, timeout)
	}
	return resp, nil
}

// Claim takes the reply for id if it has already arrived.
func (c *Client) Claim(id int64) (*Response, bool) {
	resp := c.table.Claim(id)
	return resp, resp != nil
}

// Call submits a command and waits for its reply with the default timeout.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (*Response, error) {
	id, err := c.Submit(method, params)
	if err != nil {
		return nil, err
	}
	return c.AwaitReply(ctx, id, 0)
}

// GetValue requests method with no parameters and returns result[key].
// When kinds are given the value must be one of them.
func (c *Client) GetValue(ctx context.Context, method, key string, kinds ...Kind) (Value, error) {
	resp, err := c.Call(ctx, method, nil)
	if err != nil {
		return Value{}, err
	}
	if err := c.checkResult(method, resp); err != nil {
		return Value{}, err
	}
	if resp.Result.Kind() != KindObject {
		c.log().Error("result is not an object", "method", method, "result", resp.Result.String())
		return Value{}, fmt.Errorf("%w: %s returned %s result", ErrNoResult, method, resp.Result.Kind())
	}

	v := resp.Get(key)
	if v.IsMissing() {
		c.log().Error("result missing key", "method", method, "key", key)
		return Value{}, fmt.Errorf("%w: %s.%s", ErrMissingKey, method, key)
	}
	if !v.Is(kinds...) {
		c.log().Error("unexpected value type", "method", method, "key", key,
			"expected", kindList(kinds), "got", v.Kind().String(), "value", v.String())
		return Value{}, fmt.Errorf("%w: %s.%s is %s, want %s", ErrTypeMismatch, method, key, v.Kind(), kindList(kinds))
	}
	return v, nil
}

// GetNumber returns a numeric result field.
func (c *Client) GetNumber(ctx context.Context, method, key string) (float64, error) {
	v, err := c.GetValue(ctx, method, key, KindNumber)
	if err != nil {
		return 0, err
	}
	f, _ := v.Number()
	return f, nil
}

// GetInt returns an integral numeric result field.
func (c *Client) GetInt(ctx context.Context, method, key string) (int64, error) {
	v, err := c.GetValue(ctx, method, key, KindNumber)
	if err != nil {
		return 0, err
	}
	n, ok := v.Int()
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s is not an integer", ErrTypeMismatch, method, key)
	}
	return n, nil
}

// GetText returns a string result field.
func (c *Client) GetText(ctx context.Context, method, key string) (string, error) {
	v, err := c.GetValue(ctx, method, key, KindText)
	if err != nil {
		return "", err
	}
	s, _ := v.Text()
	return s, nil
}

// GetBool returns a boolean result field.
func (c *Client) GetBool(ctx context.Context, method, key string) (bool, error) {
	v, err := c.GetValue(ctx, method, key, KindBool)
	if err != nil {
		return false, err
	}
	b, _ := v.Bool()
	return b, nil
}

// GetList returns a list result field.
func (c *Client) GetList(ctx context.Context, method, key string) ([]Value, error) {
	v, err := c.GetValue(ctx, method, key, KindList)
	if err != nil {
		return nil, err
	}
	items, _ := v.List()
	return items, nil
}

// SetValue sends {"params": {key: value}} and succeeds when the reply
// carries a result. The result itself is not inspected; re-query to read
// back what the server applied. An empty key sends no parameters.
func (c *Client) SetValue(ctx context.Context, method, key string, value any) error {
	params := map[string]any{}
	if key != "" {
		params["params"] = map[string]any{key: value}
	}
	resp, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	return c.checkResult(method, resp)
}

// Command sends {"params": params} and succeeds when the reply carries a
// result.
func (c *Client) Command(ctx context.Context, method string, params map[string]any) error {
	nested := make(map[string]any, len(params))
	for k, v := range params {
		nested[k] = v
	}
	resp, err := c.Call(ctx, method, map[string]any{"params": nested})
	if err != nil {
		return err
	}
	return c.checkResult(method, resp)
}

// checkResult logs and returns the failure carried by resp, if any.
func (c *Client) checkResult(method string, resp *Response) error {
	err := resp.Err()
	if err == nil {
		return nil
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		remote.Method = method
		c.log().Warn("server returned error", "method", method, "id", resp.ID, "error", remote.Message)
		return remote
	}
	c.log().Warn("reply carried no result", "method", method, "id", resp.ID)
	return fmt.Errorf("%w: %s (request %d)", err, method, resp.ID)
}
