// Package dispatch performs requests on behalf of outside callers (the HTTP
// API and the MQTT bridge), journaling each outcome and recording its
// latency.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/nerrad567/astrorpc/internal/journal"
	"github.com/nerrad567/astrorpc/internal/rpc"
)

// journalTimeout bounds a journal write once the call has finished.
const journalTimeout = 2 * time.Second

// Default breaker settings.
const (
	defaultBreakerFailures uint32 = 5
	defaultBreakerTimeout         = 30 * time.Second
)

// ErrCircuitOpen is returned without contacting the server while the link
// is considered down. It wraps rpc.ErrNotConnected.
var ErrCircuitOpen = fmt.Errorf("%w: circuit open", rpc.ErrNotConnected)

// Caller is the part of *rpc.Client a Dispatcher needs.
type Caller interface {
	Submit(method string, params map[string]any) (int64, error)
	AwaitReply(ctx context.Context, id int64, timeout time.Duration) (*rpc.Response, error)
}

// Recorder stores journal entries. journal.Repository satisfies it.
type Recorder interface {
	Record(ctx context.Context, e *journal.Entry) error
}

// Metrics records call latency. *influxdb.Client satisfies it.
type Metrics interface {
	WriteRPCCall(method, outcome string, duration time.Duration)
}

// Logger is the subset of logging.Logger used here.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Request is one call to perform.
type Request struct {
	Method string
	Params map[string]any

	// Timeout overrides the client's request timeout when positive.
	Timeout time.Duration

	// Source tags the journal entry (journal.SourceAPI, journal.SourceMQTT).
	Source string
}

// Result is the outcome of a performed call.
type Result struct {
	// RequestID is zero when the command was never queued.
	RequestID int64
	Value     rpc.Value
	Duration  time.Duration
	Outcome   journal.Outcome
}

// BreakerConfig controls fail-fast behaviour after repeated link failures.
// Server errors never count as failures.
type BreakerConfig struct {
	// Disabled turns the breaker off.
	Disabled bool

	// MaxFailures is the number of consecutive link failures that open
	// the circuit.
	MaxFailures uint32

	// Timeout is how long the circuit stays open before one probe call is
	// let through.
	Timeout time.Duration
}

// Options configures a Dispatcher. Journal, Metrics and Logger are optional.
type Options struct {
	Caller  Caller
	Journal Recorder
	Metrics Metrics
	Logger  Logger
	Breaker BreakerConfig
}

// Dispatcher performs calls and records their outcome.
//
// Thread Safety: safe for concurrent use.
type Dispatcher struct {
	caller  Caller
	journal Recorder
	metrics Metrics
	logger  Logger
	breaker *gobreaker.CircuitBreaker[Result]
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		caller:  opts.Caller,
		journal: opts.Journal,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
	if !opts.Breaker.Disabled {
		d.breaker = newBreaker(opts.Breaker, opts.Logger)
	}
	return d
}

func newBreaker(cfg BreakerConfig, logger Logger) *gobreaker.CircuitBreaker[Result] {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerFailures
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultBreakerTimeout
	}
	return gobreaker.NewCircuitBreaker[Result](gobreaker.Settings{
		Name:        "device-server",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("circuit breaker state change", "breaker", name,
					"from", from.String(), "to", to.String())
			}
		},
		IsSuccessful: func(err error) bool {
			return !isLinkFailure(err)
		},
	})
}

// isLinkFailure reports whether err says the server could not be reached
// or did not answer, as opposed to answering with an error.
func isLinkFailure(err error) bool {
	return errors.Is(err, rpc.ErrNotConnected) ||
		errors.Is(err, rpc.ErrConnectionLost) ||
		errors.Is(err, rpc.ErrTimeout)
}

// BreakerState returns "closed", "half-open" or "open". It is "closed"
// when the breaker is disabled.
func (d *Dispatcher) BreakerState() string {
	if d.breaker == nil {
		return gobreaker.StateClosed.String()
	}
	return d.breaker.State().String()
}

// Invoke submits req, waits for the reply and returns the result payload.
// The returned error is the call failure: queue rejection, timeout, or the
// server's error (*rpc.RemoteError). The Result is filled either way.
func (d *Dispatcher) Invoke(ctx context.Context, req Request) (Result, error) {
	started := time.Now()
	var (
		res Result
		err error
	)
	if d.breaker == nil {
		res, err = d.invoke(ctx, req)
	} else {
		res, err = d.breaker.Execute(func() (Result, error) {
			return d.invoke(ctx, req)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = ErrCircuitOpen
		}
	}
	res.Duration = time.Since(started)
	res.Outcome = journal.OutcomeOf(err)

	d.record(req, res, started, err)
	return res, err
}

func (d *Dispatcher) invoke(ctx context.Context, req Request) (Result, error) {
	id, err := d.caller.Submit(req.Method, req.Params)
	if err != nil {
		return Result{}, err
	}
	res := Result{RequestID: id}

	resp, err := d.caller.AwaitReply(ctx, id, req.Timeout)
	if err != nil {
		return res, err
	}
	if err := resp.Err(); err != nil {
		var remote *rpc.RemoteError
		if errors.As(err, &remote) {
			remote.Method = req.Method
		}
		return res, err
	}
	res.Value = resp.Result
	return res, nil
}

func (d *Dispatcher) record(req Request, res Result, started time.Time, err error) {
	if d.logger != nil {
		if err != nil {
			d.logger.Warn("call failed", "method", req.Method, "id", res.RequestID,
				"source", req.Source, "outcome", string(res.Outcome), "error", err)
		} else {
			d.logger.Debug("call completed", "method", req.Method, "id", res.RequestID,
				"source", req.Source, "duration", res.Duration)
		}
	}

	if d.metrics != nil && req.Method != "" {
		d.metrics.WriteRPCCall(req.Method, string(res.Outcome), res.Duration)
	}

	if d.journal == nil {
		return
	}
	entry := journal.NewEntry(req.Source, req.Method, req.Params, res.RequestID, started, err)
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if jerr := d.journal.Record(ctx, entry); jerr != nil && d.logger != nil {
		d.logger.Warn("journal write failed", "method", req.Method, "error", jerr)
	}
}
