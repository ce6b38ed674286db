package rpc

import (
	"fmt"
	"sync"
)

// Lifecycle event names synthesised by the client, plus the server event
// every device-control server is known to send.
const (
	EventConnected    = "Connected"
	EventDisconnected = "Disconnected"
	EventResponse     = "Response"
	EventConnection   = "Connection"
)

// Event is a notification delivered to subscribers.
type Event struct {
	// Name is the event name, e.g. "Connected" or a server event name.
	Name string

	// RequestID is set for Response events.
	RequestID int64

	// Fields holds the remaining fields of a server event frame.
	Fields map[string]Value
}

// Handler receives events. Handlers run synchronously on the session
// goroutine and must not block for long; a slow handler delays every
// frame behind it.
type Handler func(Event)

// EventBus fans events out to subscribers in subscription order.
//
// Subscriptions are permanent; there is no unsubscribe. A handler that
// panics is recovered and logged so the session keeps running.
type EventBus struct {
	mu       sync.RWMutex
	handlers []Handler

	logger   Logger
	loggerMu sync.RWMutex
}

// NewEventBus creates a bus with no subscribers.
func NewEventBus() *EventBus {
	return &EventBus{logger: noopLogger{}}
}

// SetLogger sets the logger used to report handler panics.
func (b *EventBus) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

// Subscribe appends h to the subscriber list. Nil handlers are ignored.
func (b *EventBus) Subscribe(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Publish invokes every subscriber with ev, in order.
func (b *EventBus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(h, ev)
	}
}

func (b *EventBus) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.loggerMu.RLock()
			logger := b.logger
			b.loggerMu.RUnlock()
			logger.Error("event handler panic", "event", ev.Name, "error", fmt.Sprintf("%v", r))
		}
	}()
	h(ev)
}

// Len returns the number of subscribers.
func (b *EventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
