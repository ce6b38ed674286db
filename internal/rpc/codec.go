package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FrameBuffer accumulates inbound bytes and splits them into frames.
//
// A frame starts at the first '{' in the buffer and ends at the first
// '\n' after it. Bytes before the '{' are protocol noise and are
// discarded together with the frame. FrameBuffer does no I/O and is not
// safe for concurrent use; the session that owns it is its only user.
type FrameBuffer struct {
	buf []byte
}

// Append adds received bytes to the end of the buffer.
func (b *FrameBuffer) Append(p []byte) {
	b.buf = append(b.buf, p...)
}

// Next removes and returns the next complete frame, without its trailing
// newline. It returns false and leaves the buffer untouched when no
// complete frame is buffered yet.
func (b *FrameBuffer) Next() ([]byte, bool) {
	start := bytes.IndexByte(b.buf, '{')
	if start < 0 {
		return nil, false
	}
	end := bytes.IndexByte(b.buf[start:], '\n')
	if end < 0 {
		return nil, false
	}
	end += start

	frame := make([]byte, end-start)
	copy(frame, b.buf[start:end])

	rest := b.buf[end+1:]
	if len(rest) == 0 {
		b.buf = b.buf[:0]
	} else {
		// Compact so the backing array does not grow without bound.
		n := copy(b.buf, rest)
		b.buf = b.buf[:n]
	}
	return frame, true
}

// Len returns the number of buffered bytes.
func (b *FrameBuffer) Len() int {
	return len(b.buf)
}

// Reset discards everything buffered.
func (b *FrameBuffer) Reset() {
	b.buf = b.buf[:0]
}

// EncodeCommand serialises a command as one wire frame.
//
// The parameter map is merged into the top level of the object as-is;
// callers that want the nested envelope pass {"params": {...}} themselves.
// The method and id fields always take precedence over parameters of the
// same name. The returned slice ends with '\n'.
func EncodeCommand(method string, id int64, params map[string]any) ([]byte, error) {
	if method == "" {
		return nil, ErrInvalidMethod
	}

	obj := make(map[string]any, len(params)+2)
	for k, v := range params {
		obj[k] = v
	}
	obj["method"] = method
	obj["id"] = id

	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	return append(data, '\n'), nil
}

// Frame is one decoded inbound message.
//
// A frame with an id is a response, whatever else it carries. A frame
// without an id but with an event name is an event. Anything else is
// neither and is dropped by the session.
type Frame struct {
	// ID is the request id; valid only when HasID is true.
	ID    int64
	HasID bool

	// Event is the event name from the "event" field, or the legacy
	// "Event" field used by older servers.
	Event string

	// Fields holds every top-level field of the frame.
	Fields map[string]Value
}

// IsResponse reports whether the frame answers a request.
func (f Frame) IsResponse() bool { return f.HasID }

// IsEvent reports whether the frame is a server-initiated event.
func (f Frame) IsEvent() bool { return !f.HasID && f.Event != "" }

// DecodeFrame parses one frame's text.
//
// A null id counts as no id. An id that is not an integer is rejected
// with ErrMalformedFrame since it can never match a request.
func DecodeFrame(data []byte) (Frame, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if raw == nil {
		return Frame{}, fmt.Errorf("%w: not an object", ErrMalformedFrame)
	}

	obj, err := ValueOf(raw)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	fields, _ := obj.Object()

	frame := Frame{Fields: fields}

	if idRaw, ok := raw["id"]; ok && idRaw != nil {
		num, ok := idRaw.(json.Number)
		if !ok {
			return Frame{}, fmt.Errorf("%w: id has type %T", ErrMalformedFrame, idRaw)
		}
		id, err := num.Int64()
		if err != nil {
			return Frame{}, fmt.Errorf("%w: id %q is not an integer", ErrMalformedFrame, num.String())
		}
		frame.ID = id
		frame.HasID = true
	}

	for _, key := range []string{"event", "Event"} {
		if name, ok := fields[key].Text(); ok && name != "" {
			frame.Event = name
			break
		}
	}

	return frame, nil
}
