package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/astrorpc/internal/rpc"
)

// sentCommand records one request made through fakeCaller.
type sentCommand struct {
	ID     int64
	Method string
	Params map[string]any
}

// fakeCaller answers requests from a per-method script instead of a socket.
type fakeCaller struct {
	mu       sync.Mutex
	nextID   int64
	replies  map[string][]map[string]any // method -> queue of reply frames
	sent     []sentCommand
	stored   map[int64]*rpc.Response
	handlers []rpc.Handler
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		replies: make(map[string][]map[string]any),
		stored:  make(map[int64]*rpc.Response),
	}
}

// script queues reply frames (without id) for method. The last one repeats.
func (f *fakeCaller) script(method string, frames ...map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[method] = append(f.replies[method], frames...)
}

func (f *fakeCaller) result(method string, result map[string]any) {
	f.script(method, map[string]any{"result": result})
}

func (f *fakeCaller) emit(ev rpc.Event) {
	f.mu.Lock()
	hs := append([]rpc.Handler(nil), f.handlers...)
	f.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

// deliver stores a reply for id and publishes the Response event.
func (f *fakeCaller) deliver(id int64, frame map[string]any) {
	resp := toResponse(id, frame)
	f.mu.Lock()
	f.stored[id] = resp
	f.mu.Unlock()
	f.emit(rpc.Event{Name: rpc.EventResponse, RequestID: id})
}

func (f *fakeCaller) commands() []sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCommand(nil), f.sent...)
}

func (f *fakeCaller) last() sentCommand {
	cmds := f.commands()
	if len(cmds) == 0 {
		return sentCommand{}
	}
	return cmds[len(cmds)-1]
}

func toResponse(id int64, frame map[string]any) *rpc.Response {
	resp := &rpc.Response{ID: id, ReceivedAt: time.Now()}
	if r, ok := frame["result"]; ok {
		v, err := rpc.ValueOf(r)
		if err != nil {
			panic(err)
		}
		resp.Result = v
	}
	if e, ok := frame["error"]; ok {
		resp.Error = fmt.Sprint(e)
		resp.HasError = true
	}
	return resp
}

func (f *fakeCaller) Submit(method string, params map[string]any) (int64, error) {
	if method == "" {
		return 0, rpc.ErrInvalidMethod
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, sentCommand{ID: f.nextID, Method: method, Params: params})
	return f.nextID, nil
}

func (f *fakeCaller) AwaitReply(ctx context.Context, id int64, _ time.Duration) (*rpc.Response, error) {
	if resp, ok := f.Claim(id); ok {
		return resp, nil
	}
	return nil, rpc.ErrTimeout
}

func (f *fakeCaller) Claim(id int64) (*rpc.Response, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp, ok := f.stored[id]
	delete(f.stored, id)
	return resp, ok
}

func (f *fakeCaller) Call(ctx context.Context, method string, params map[string]any) (*rpc.Response, error) {
	id, err := f.Submit(method, params)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	queue := f.replies[method]
	if len(queue) == 0 {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: request %d", rpc.ErrTimeout, id)
	}
	frame := queue[0]
	if len(queue) > 1 {
		f.replies[method] = queue[1:]
	}
	f.mu.Unlock()

	return toResponse(id, frame), nil
}

func (f *fakeCaller) GetValue(ctx context.Context, method, key string, kinds ...rpc.Kind) (rpc.Value, error) {
	resp, err := f.Call(ctx, method, nil)
	if err != nil {
		return rpc.Value{}, err
	}
	if err := resp.Err(); err != nil {
		return rpc.Value{}, err
	}
	v := resp.Get(key)
	if v.IsMissing() {
		return rpc.Value{}, rpc.ErrMissingKey
	}
	if !v.Is(kinds...) {
		return rpc.Value{}, rpc.ErrTypeMismatch
	}
	return v, nil
}

func (f *fakeCaller) SetValue(ctx context.Context, method, key string, value any) error {
	params := map[string]any{}
	if key != "" {
		params["params"] = map[string]any{key: value}
	}
	resp, err := f.Call(ctx, method, params)
	if err != nil {
		return err
	}
	return resp.Err()
}

func (f *fakeCaller) Command(ctx context.Context, method string, params map[string]any) error {
	nested := map[string]any{}
	for k, v := range params {
		nested[k] = v
	}
	resp, err := f.Call(ctx, method, map[string]any{"params": nested})
	if err != nil {
		return err
	}
	return resp.Err()
}

func (f *fakeCaller) Subscribe(h rpc.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
}

func (f *fakeCaller) IsConnected() bool { return true }

var _ rpc.Caller = (*fakeCaller)(nil)
