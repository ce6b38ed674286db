package rpc

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestFrameBufferNext(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantFrames []string
		wantRest   int
	}{
		{
			name:       "single frame",
			input:      "{\"id\":1}\n",
			wantFrames: []string{`{"id":1}`},
		},
		{
			name:       "two frames in one read",
			input:      "{\"id\":1}\n{\"event\":\"Connection\"}\n",
			wantFrames: []string{`{"id":1}`, `{"event":"Connection"}`},
		},
		{
			name:       "leading noise discarded",
			input:      "noise\r\n{\"id\":2}\n",
			wantFrames: []string{`{"id":2}`},
		},
		{
			name:     "no newline yet",
			input:    `{"id":3`,
			wantRest: 7,
		},
		{
			name:     "no brace",
			input:    "not json at all\n",
			wantRest: 16,
		},
		{
			name:       "partial frame after complete one",
			input:      "{\"id\":1}\n{\"id\"",
			wantFrames: []string{`{"id":1}`},
			wantRest:   5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b FrameBuffer
			b.Append([]byte(tt.input))

			var got []string
			for {
				frame, ok := b.Next()
				if !ok {
					break
				}
				got = append(got, string(frame))
			}

			if len(got) != len(tt.wantFrames) {
				t.Fatalf("got %d frames %q, want %d", len(got), got, len(tt.wantFrames))
			}
			for i := range got {
				if got[i] != tt.wantFrames[i] {
					t.Errorf("frame %d = %q, want %q", i, got[i], tt.wantFrames[i])
				}
			}
			if b.Len() != tt.wantRest {
				t.Errorf("Len() = %d, want %d", b.Len(), tt.wantRest)
			}
		})
	}
}

func TestFrameBufferChunkBoundaries(t *testing.T) {
	stream := "xx{\"id\":1,\"result\":{\"current_temperature\":-5.2}}\n{\"event\":\"Connection\"}\n{\"id\":2,\"error\":\"busy\"}\n"

	var whole FrameBuffer
	whole.Append([]byte(stream))
	var want []string
	for {
		f, ok := whole.Next()
		if !ok {
			break
		}
		want = append(want, string(f))
	}

	// Every split point, and byte-at-a-time, must yield the same frames.
	for split := 1; split < len(stream); split++ {
		var b FrameBuffer
		var got []string
		for _, chunk := range []string{stream[:split], stream[split:]} {
			b.Append([]byte(chunk))
			for {
				f, ok := b.Next()
				if !ok {
					break
				}
				got = append(got, string(f))
			}
		}
		if len(got) != len(want) {
			t.Fatalf("split %d: got %d frames, want %d", split, len(got), len(want))
		}
		for i := range got {
			if got[i] != want[i] {
				t.Errorf("split %d frame %d = %q, want %q", split, i, got[i], want[i])
			}
		}
	}

	var b FrameBuffer
	var got []string
	for i := 0; i < len(stream); i++ {
		b.Append([]byte{stream[i]})
		if f, ok := b.Next(); ok {
			got = append(got, string(f))
		}
	}
	if len(got) != len(want) {
		t.Fatalf("byte-at-a-time: got %d frames, want %d", len(got), len(want))
	}
}

func TestFrameBufferReset(t *testing.T) {
	var b FrameBuffer
	b.Append([]byte(`{"id":1`))
	b.Reset()
	if b.Len() != 0 {
		t.Fatalf("Len() after Reset = %d, want 0", b.Len())
	}
	b.Append([]byte("}\n"))
	if _, ok := b.Next(); ok {
		t.Error("partial frame survived Reset")
	}
}

func TestEncodeCommand(t *testing.T) {
	data, err := EncodeCommand("set_thing", 7, map[string]any{"a": 1, "b": "x"})
	if err != nil {
		t.Fatalf("EncodeCommand() error = %v", err)
	}
	if data[len(data)-1] != '\n' {
		t.Fatalf("frame does not end with newline: %q", data)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("frame is not JSON: %v", err)
	}
	if decoded["method"] != "set_thing" {
		t.Errorf("method = %v, want set_thing", decoded["method"])
	}
	if decoded["id"] != float64(7) {
		t.Errorf("id = %v, want 7", decoded["id"])
	}
	if decoded["a"] != float64(1) {
		t.Errorf("a = %v, want 1", decoded["a"])
	}
	if decoded["b"] != "x" {
		t.Errorf("b = %v, want x", decoded["b"])
	}
}

func TestEncodeCommandReservedKeys(t *testing.T) {
	data, err := EncodeCommand("real", 3, map[string]any{"method": "fake", "id": 99})
	if err != nil {
		t.Fatalf("EncodeCommand() error = %v", err)
	}
	frame, err := DecodeFrame(data[:len(data)-1])
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if frame.ID != 3 {
		t.Errorf("id = %d, want 3", frame.ID)
	}
	if m, _ := frame.Fields["method"].Text(); m != "real" {
		t.Errorf("method = %q, want real", m)
	}
}

func TestEncodeCommandNestedParams(t *testing.T) {
	data, err := EncodeCommand("focuser_move_absolute_position", 4,
		map[string]any{"params": map[string]any{"absolute_position": 1500}})
	if err != nil {
		t.Fatalf("EncodeCommand() error = %v", err)
	}
	want := `{"id":4,"method":"focuser_move_absolute_position","params":{"absolute_position":1500}}` + "\n"
	if string(data) != want {
		t.Errorf("frame = %q, want %q", data, want)
	}
}

func TestEncodeCommandEmptyMethod(t *testing.T) {
	if _, err := EncodeCommand("", 1, nil); !errors.Is(err, ErrInvalidMethod) {
		t.Errorf("EncodeCommand(\"\") error = %v, want ErrInvalidMethod", err)
	}
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantID    int64
		wantHasID bool
		wantEvent string
		wantErr   bool
	}{
		{name: "response", input: `{"id":1,"result":{"x":1}}`, wantID: 1, wantHasID: true},
		{name: "error response", input: `{"id":2,"error":"nope"}`, wantID: 2, wantHasID: true},
		{name: "event", input: `{"event":"Connection"}`, wantEvent: "Connection"},
		{name: "legacy event key", input: `{"Event":"Connection"}`, wantEvent: "Connection"},
		{name: "id wins over event", input: `{"id":5,"event":"Connection"}`, wantID: 5, wantHasID: true, wantEvent: "Connection"},
		{name: "null id", input: `{"id":null,"event":"Connection"}`, wantEvent: "Connection"},
		{name: "neither", input: `{"hello":"world"}`},
		{name: "not json", input: `{not json`, wantErr: true},
		{name: "string id", input: `{"id":"abc"}`, wantErr: true},
		{name: "fractional id", input: `{"id":1.5}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := DecodeFrame([]byte(tt.input))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedFrame) {
					t.Errorf("DecodeFrame() error = %v, want ErrMalformedFrame", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeFrame() unexpected error: %v", err)
			}
			if frame.HasID != tt.wantHasID || frame.ID != tt.wantID {
				t.Errorf("id = (%d, %v), want (%d, %v)", frame.ID, frame.HasID, tt.wantID, tt.wantHasID)
			}
			if frame.Event != tt.wantEvent {
				t.Errorf("event = %q, want %q", frame.Event, tt.wantEvent)
			}
			if frame.IsResponse() && frame.IsEvent() {
				t.Error("frame classified as both response and event")
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	data, err := EncodeCommand("cmd", 7, map[string]any{"a": 1, "b": "x"})
	if err != nil {
		t.Fatalf("EncodeCommand() error = %v", err)
	}

	var b FrameBuffer
	b.Append(data)
	text, ok := b.Next()
	if !ok {
		t.Fatal("encoded command did not form a frame")
	}
	frame, err := DecodeFrame(text)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if !frame.HasID || frame.ID != 7 {
		t.Errorf("id = %d, want 7", frame.ID)
	}
	if n, _ := frame.Fields["a"].Int(); n != 1 {
		t.Errorf("a = %v, want 1", frame.Fields["a"])
	}
	if s, _ := frame.Fields["b"].Text(); s != "x" {
		t.Errorf("b = %v, want x", frame.Fields["b"])
	}
	if m, _ := frame.Fields["method"].Text(); m != "cmd" {
		t.Errorf("method = %v, want cmd", frame.Fields["method"])
	}
}
