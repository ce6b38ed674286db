package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// readResult carries one socket read from the reader goroutine.
// Data and error travel on one channel so their order is preserved.
type readResult struct {
	data []byte
	err  error
}

// session owns one live connection and its read/decode/write loop.
// Only the session touches the socket and the frame buffer.
type session struct {
	id   string
	m    *Manager
	conn net.Conn
	buf  FrameBuffer
}

func newSession(m *Manager, conn net.Conn) *session {
	return &session{
		id:   uuid.NewString(),
		m:    m,
		conn: conn,
	}
}

// run services the connection until it fails or ctx is cancelled, then
// tears it down. The returned error describes why the session ended.
func (s *session) run(ctx context.Context) error {
	s.buf.Reset()
	s.m.touch()
	s.m.setState(StateConnected, s.id)
	s.m.log().Info("connected to device server", "session", s.id, "address", s.conn.RemoteAddr().String())
	s.m.bus.Publish(Event{Name: EventConnected})

	reads := make(chan readResult, 16)
	quit := make(chan struct{})
	var readerWG sync.WaitGroup
	readerWG.Add(1)
	go s.readLoop(reads, quit, &readerWG)

	err := s.loop(ctx, reads)

	close(quit)
	s.teardown()
	readerWG.Wait()
	return err
}

// loop is the session body. It wakes on received bytes, queued commands,
// the poll ticker and cancellation.
func (s *session) loop(ctx context.Context, reads <-chan readResult) error {
	ticker := time.NewTicker(s.m.cfg.PollInterval)
	defer ticker.Stop()

	// Commands queued while connecting go out first.
	if err := s.flushQueue(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case r := <-reads:
			if err := s.absorb(r); err != nil {
				return err
			}
			// Take whatever else is already waiting before decoding.
			if err := s.absorbPending(reads); err != nil {
				return err
			}
			if err := s.drainFrames(); err != nil {
				return err
			}

		case <-s.m.queueSignal:

		case <-ticker.C:
			s.sweep()
		}

		if err := s.flushQueue(); err != nil {
			return err
		}
	}
}

// readLoop copies bytes from the socket onto reads until the socket fails.
func (s *session) readLoop(reads chan<- readResult, quit <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, readBufferSize)

	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case reads <- readResult{data: data}:
			case <-quit:
				return
			}
		}
		if err != nil {
			select {
			case reads <- readResult{err: err}:
			case <-quit:
			}
			return
		}
	}
}

// absorb appends one read to the buffer or converts its error.
func (s *session) absorb(r readResult) error {
	if r.err != nil {
		if errors.Is(r.err, io.EOF) {
			return fmt.Errorf("%w: peer closed connection", ErrConnectionLost)
		}
		return fmt.Errorf("%w: read: %w", ErrConnectionLost, r.err)
	}
	s.buf.Append(r.data)
	s.m.touch()
	return nil
}

// absorbPending drains reads that are immediately available.
func (s *session) absorbPending(reads <-chan readResult) error {
	for {
		select {
		case r := <-reads:
			if r.err != nil {
				// Deliver what arrived before the failure first.
				if err := s.drainFrames(); err != nil {
					return err
				}
				return s.absorb(r)
			}
			if err := s.absorb(r); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// drainFrames decodes and dispatches every complete frame in the buffer.
func (s *session) drainFrames() error {
	for {
		text, ok := s.buf.Next()
		if !ok {
			break
		}
		s.handleFrame(text)
	}
	if s.buf.Len() > s.m.cfg.MaxFrameSize {
		return fmt.Errorf("%w: %d bytes buffered without a newline", ErrFrameTooLarge, s.buf.Len())
	}
	return nil
}

// handleFrame classifies one frame as a response or an event.
func (s *session) handleFrame(text []byte) {
	log := s.m.log()

	frame, err := DecodeFrame(text)
	if err != nil {
		s.m.malformed.Add(1)
		log.Error("dropping malformed frame", "session", s.id, "frame", truncate(text, 200), "error", err)
		return
	}
	s.m.framesRx.Add(1)

	switch {
	case frame.IsResponse():
		log.Debug("received response", "session", s.id, "id", frame.ID)
		if !s.m.table.Record(newResponse(frame, time.Now())) {
			s.m.duplicates.Add(1)
			log.Debug("ignoring duplicate response", "session", s.id, "id", frame.ID)
		}
		// Announced for every reply; a duplicate leaves the first one in place.
		s.m.bus.Publish(Event{Name: EventResponse, RequestID: frame.ID})

	case frame.IsEvent():
		log.Debug("received event", "session", s.id, "event", frame.Event)
		fields := make(map[string]Value, len(frame.Fields))
		for k, v := range frame.Fields {
			if k == "event" || k == "Event" {
				continue
			}
			fields[k] = v
		}
		s.m.bus.Publish(Event{Name: frame.Event, Fields: fields})

	default:
		s.m.malformed.Add(1)
		log.Warn("received frame with no event or id", "session", s.id, "frame", truncate(text, 200))
	}
}

// flushQueue writes every queued command in order.
func (s *session) flushQueue() error {
	cmds := s.m.takeQueue()
	for i, cmd := range cmds {
		if err := s.write(cmd); err != nil {
			// The rest never reach the wire.
			s.m.dropped.Add(uint64(len(cmds) - i - 1))
			return err
		}
	}
	return nil
}

// write sends one encoded command under the write deadline.
func (s *session) write(cmd PendingCommand) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.m.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("%w: set write deadline: %w", ErrConnectionLost, err)
	}
	if _, err := s.conn.Write(cmd.frame); err != nil {
		return fmt.Errorf("%w: write: %w", ErrConnectionLost, err)
	}

	s.m.framesTx.Add(1)
	s.m.touch()
	s.m.log().Debug("sent command", "session", s.id, "method", cmd.Method, "id", cmd.ID)
	return nil
}

// sweep evicts replies nobody claimed within StaleAfter.
func (s *session) sweep() {
	if n := s.m.table.Sweep(time.Now().Add(-s.m.cfg.StaleAfter)); n > 0 {
		s.m.evicted.Add(uint64(n))
		s.m.log().Warn("evicted unclaimed responses", "session", s.id, "count", n)
	}
}

// teardown closes the socket, discards buffered bytes and queued
// commands, and announces the disconnect.
func (s *session) teardown() {
	if err := s.conn.Close(); err != nil {
		s.m.log().Debug("close connection", "session", s.id, "error", err)
	}
	s.buf.Reset()
	if n := s.m.clearQueue(); n > 0 {
		s.m.log().Warn("discarded queued commands on disconnect", "session", s.id, "count", n)
	}
	s.m.setState(StateDisconnected, "")
	s.m.bus.Publish(Event{Name: EventDisconnected})
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
