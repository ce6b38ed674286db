package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/astrorpc/internal/rpc"
)

// Kind identifies the class of instrument an adapter drives.
type Kind string

// Instrument kinds.
const (
	KindCamera      Kind = "camera"
	KindFocuser     Kind = "focuser"
	KindFilterWheel Kind = "filterwheel"
	KindMount       Kind = "mount"
)

// AllKinds lists every kind in a stable order.
var AllKinds = []Kind{KindCamera, KindFocuser, KindFilterWheel, KindMount}

// ParseKind converts a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range AllKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("device: unknown kind %q", s)
}

// Device is the behaviour shared by all adapters.
type Device interface {
	Kind() Kind
	Connected() bool
}

// Logger defines the logging interface used by adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// base holds what every adapter needs: the caller, the connection flag
// driven by server events, and a logger.
type base struct {
	kind      Kind
	caller    rpc.Caller
	connected atomic.Bool

	logger   Logger
	loggerMu sync.RWMutex
}

func newBase(kind Kind, caller rpc.Caller) *base {
	return &base{kind: kind, caller: caller, logger: noopLogger{}}
}

// watch subscribes the connection tracker and any extra handler.
func (b *base) watch(extra rpc.Handler) {
	b.caller.Subscribe(func(ev rpc.Event) {
		switch ev.Name {
		case rpc.EventConnection:
			if !b.connected.Swap(true) {
				b.log().Info("device ready", "device", string(b.kind))
			}
		case rpc.EventDisconnected:
			b.connected.Store(false)
		}
		if extra != nil {
			extra(ev)
		}
	})
}

// Kind returns the instrument kind.
func (b *base) Kind() Kind { return b.kind }

// Connected reports whether the server has announced the device since the
// last disconnect.
func (b *base) Connected() bool { return b.connected.Load() }

// SetLogger sets the logger for the adapter.
func (b *base) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *base) log() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *base) number(ctx context.Context, method, key string) (float64, error) {
	v, err := b.caller.GetValue(ctx, method, key, rpc.KindNumber)
	if err != nil {
		return 0, err
	}
	f, _ := v.Number()
	return f, nil
}

func (b *base) integer(ctx context.Context, method, key string) (int64, error) {
	v, err := b.caller.GetValue(ctx, method, key, rpc.KindNumber)
	if err != nil {
		return 0, err
	}
	n, ok := v.Int()
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s is not an integer", rpc.ErrTypeMismatch, method, key)
	}
	return n, nil
}

func (b *base) boolean(ctx context.Context, method, key string) (bool, error) {
	v, err := b.caller.GetValue(ctx, method, key, rpc.KindBool)
	if err != nil {
		return false, err
	}
	on, _ := v.Bool()
	return on, nil
}

func (b *base) text(ctx context.Context, method, key string) (string, error) {
	v, err := b.caller.GetValue(ctx, method, key, rpc.KindText)
	if err != nil {
		return "", err
	}
	s, _ := v.Text()
	return s, nil
}

// result calls method without parameters and returns its result object.
func (b *base) result(ctx context.Context, method string) (rpc.Value, error) {
	resp, err := b.caller.Call(ctx, method, nil)
	if err != nil {
		return rpc.Value{}, err
	}
	if err := resp.Err(); err != nil {
		b.log().Warn("request failed", "device", string(b.kind), "method", method, "error", err)
		return rpc.Value{}, fmt.Errorf("%s: %w", method, err)
	}
	if resp.Result.Kind() != rpc.KindObject {
		return rpc.Value{}, fmt.Errorf("%w: %s returned %s", ErrBadResult, method, resp.Result.Kind())
	}
	return resp.Result, nil
}

// pair reads two numeric fields from one reply.
func (b *base) pair(ctx context.Context, method, k1, k2 string) (float64, float64, error) {
	res, err := b.result(ctx, method)
	if err != nil {
		return 0, 0, err
	}
	first, ok1 := res.Get(k1).Number()
	second, ok2 := res.Get(k2).Number()
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("%w: %s needs numeric %s and %s", ErrBadResult, method, k1, k2)
	}
	return first, second, nil
}

// bare sends method with no parameter envelope at all.
func (b *base) bare(ctx context.Context, method string) error {
	resp, err := b.caller.Call(ctx, method, nil)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}
