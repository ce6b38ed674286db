package process

import (
	"bytes"
	"os/exec"
	"sync"
)

// maxLineLength bounds a buffered output line; longer lines are logged in
// pieces.
const maxLineLength = 4096

// lineWriter logs subprocess output one line at a time.
type lineWriter struct {
	logger Logger
	name   string
	stream string

	mu  sync.Mutex
	buf []byte
}

func newLineWriter(logger Logger, name, stream string) *lineWriter {
	return &lineWriter{logger: logger, name: name, stream: stream}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	for len(w.buf) >= maxLineLength {
		w.emit(w.buf[:maxLineLength])
		w.buf = w.buf[maxLineLength:]
	}
	return len(p), nil
}

// Flush logs any trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	if w.stream == "stderr" {
		w.logger.Warn("process output", "name", w.name, "stream", w.stream, "line", string(line))
		return
	}
	w.logger.Info("process output", "name", w.name, "stream", w.stream, "line", string(line))
}

// flushOutput flushes the writers startProcess attached to cmd.
func flushOutput(cmd *exec.Cmd) {
	for _, out := range []any{cmd.Stdout, cmd.Stderr} {
		if w, ok := out.(*lineWriter); ok {
			w.Flush()
		}
	}
}
