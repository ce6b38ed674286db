package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nerrad567/astrorpc/internal/dispatch"
	"github.com/nerrad567/astrorpc/internal/journal"
	"github.com/nerrad567/astrorpc/internal/rpc"
)

// maxCallTimeout caps the per-request timeout a caller may ask for.
const maxCallTimeout = 10 * time.Minute

// CallRequest is the body of POST /rpc.
type CallRequest struct {
	Method    string         `json:"method"`
	Params    map[string]any `json:"params,omitempty"`
	TimeoutMS int64          `json:"timeout_ms,omitempty"`
}

// CallResponse is a successful request outcome.
type CallResponse struct {
	RequestID  int64     `json:"request_id"`
	Method     string    `json:"method"`
	Result     rpc.Value `json:"result"`
	Outcome    string    `json:"outcome"`
	DurationMS int64     `json:"duration_ms"`
}

// ValueResponse is the body returned by GET /values.
type ValueResponse struct {
	Method string    `json:"method"`
	Key    string    `json:"key"`
	Value  rpc.Value `json:"value"`
}

// handleCall performs one device server request and waits for its reply.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req CallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.TimeoutMS < 0 {
		writeBadRequest(w, "timeout_ms must not be negative")
		return
	}
	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	if timeout > maxCallTimeout {
		timeout = maxCallTimeout
	}

	res, err := s.invoker.Invoke(r.Context(), dispatch.Request{
		Method:  req.Method,
		Params:  req.Params,
		Timeout: timeout,
		Source:  journal.SourceAPI,
	})
	if err != nil {
		writeCallError(w, res.RequestID, err)
		return
	}

	writeJSON(w, http.StatusOK, CallResponse{
		RequestID:  res.RequestID,
		Method:     req.Method,
		Result:     res.Value,
		Outcome:    string(res.Outcome),
		DurationMS: res.Duration.Milliseconds(),
	})
}

// handleGetValue reads one field of a request's result.
func (s *Server) handleGetValue(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Query().Get("method")
	key := r.URL.Query().Get("key")
	if method == "" || key == "" {
		writeBadRequest(w, "method and key query parameters are required")
		return
	}

	v, err := s.client.GetValue(r.Context(), method, key)
	if err != nil {
		writeCallError(w, 0, err)
		return
	}
	writeJSON(w, http.StatusOK, ValueResponse{Method: method, Key: key, Value: v})
}
