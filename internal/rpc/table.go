package rpc

import (
	"context"
	"sync"
	"time"
)

// Response is a reply to one request, as stored in the ResponseTable.
type Response struct {
	ID int64

	// Result is the "result" field, Missing when absent.
	Result Value

	// Error is the server's error message; meaningful when HasError is true.
	Error    string
	HasError bool

	ReceivedAt time.Time
}

// newResponse builds a Response from a frame that carries an id.
func newResponse(f Frame, receivedAt time.Time) *Response {
	resp := &Response{
		ID:         f.ID,
		Result:     f.Fields["result"],
		ReceivedAt: receivedAt,
	}

	errVal := f.Fields["error"]
	if errVal.Present() {
		resp.HasError = true
		switch errVal.Kind() {
		case KindText:
			resp.Error, _ = errVal.Text()
		case KindObject:
			if msg, ok := errVal.Get("message").Text(); ok {
				resp.Error = msg
			} else {
				resp.Error = errVal.String()
			}
		default:
			resp.Error = errVal.String()
		}
	}
	return resp
}

// HasResult reports whether the reply carries a non-null result.
func (r *Response) HasResult() bool {
	return r.Result.Present()
}

// Get returns a field of an object result, or Missing.
func (r *Response) Get(key string) Value {
	return r.Result.Get(key)
}

// Err reports the failure carried by the reply, if any.
//
// A present result counts as success even when an error is also set.
// Otherwise an error field yields a *RemoteError and a reply with neither
// yields ErrNoResult.
func (r *Response) Err() error {
	if r.HasResult() {
		return nil
	}
	if r.HasError {
		return &RemoteError{ID: r.ID, Message: r.Error}
	}
	return ErrNoResult
}

// waiter is a one-shot notification shared by everyone awaiting an id.
type waiter struct {
	ch   chan struct{}
	refs int
}

// ResponseTable holds received replies until a caller claims them.
//
// Each id is stored at most once: a reply whose id is already stored, or
// was claimed within the retention window, is dropped. Callers blocked
// in Await are woken as soon as their id is recorded, so no polling is
// involved.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type ResponseTable struct {
	mu        sync.Mutex
	entries   map[int64]*Response
	delivered map[int64]time.Time
	waiters   map[int64]*waiter
}

// NewResponseTable creates an empty table.
func NewResponseTable() *ResponseTable {
	return &ResponseTable{
		entries:   make(map[int64]*Response),
		delivered: make(map[int64]time.Time),
		waiters:   make(map[int64]*waiter),
	}
}

// Record stores resp unless its id is already known.
// It returns false when the reply was a duplicate and was dropped.
func (t *ResponseTable) Record(resp *Response) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[resp.ID]; ok {
		return false
	}
	if _, ok := t.delivered[resp.ID]; ok {
		return false
	}
	t.entries[resp.ID] = resp

	if w, ok := t.waiters[resp.ID]; ok {
		close(w.ch)
		delete(t.waiters, resp.ID)
	}
	return true
}

// Claim removes and returns the reply for id.
// Only the first claim succeeds; later claims return nil.
func (t *ResponseTable) Claim(id int64) *Response {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.claimLocked(id)
}

func (t *ResponseTable) claimLocked(id int64) *Response {
	resp, ok := t.entries[id]
	if !ok {
		return nil
	}
	delete(t.entries, id)
	t.delivered[id] = time.Now()
	return resp
}

// Await blocks until the reply for id can be claimed or ctx is done.
//
// If another caller claims the same id first, Await keeps waiting; since
// duplicates are dropped it will then end with ctx's error.
func (t *ResponseTable) Await(ctx context.Context, id int64) (*Response, error) {
	for {
		t.mu.Lock()
		if resp := t.claimLocked(id); resp != nil {
			t.mu.Unlock()
			return resp, nil
		}
		w, ok := t.waiters[id]
		if !ok {
			w = &waiter{ch: make(chan struct{})}
			t.waiters[id] = w
		}
		w.refs++
		t.mu.Unlock()

		select {
		case <-w.ch:
			// Recorded; loop round to claim it.
		case <-ctx.Done():
			t.release(id, w)
			return nil, ctx.Err()
		}
	}
}

// release drops one reference to a waiter that was never signalled.
func (t *ResponseTable) release(id int64, w *waiter) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w.refs--
	if cur, ok := t.waiters[id]; ok && cur == w && w.refs <= 0 {
		delete(t.waiters, id)
	}
}

// Sweep evicts unclaimed replies received before cutoff and forgets
// delivered ids claimed before cutoff. It returns how many unclaimed
// replies were evicted.
func (t *ResponseTable) Sweep(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, at := range t.delivered {
		if at.Before(cutoff) {
			delete(t.delivered, id)
		}
	}

	now := time.Now()
	evicted := 0
	for id, resp := range t.entries {
		if resp.ReceivedAt.Before(cutoff) {
			delete(t.entries, id)
			// Remember it so a late retransmission is still a duplicate.
			t.delivered[id] = now
			evicted++
		}
	}
	return evicted
}

// Len returns the number of unclaimed replies.
func (t *ResponseTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
