package observatory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/astrorpc/internal/infrastructure/mqtt"
	"github.com/nerrad567/astrorpc/internal/rpc"
)

const defaultTelemetryInterval = 10 * time.Second

// Point is one value read by the poller.
type Point struct {
	Device string
	Method string
	Key    string
}

// ValueReader reads single result fields. *rpc.Client satisfies it.
type ValueReader interface {
	GetValue(ctx context.Context, method, key string, kinds ...rpc.Kind) (rpc.Value, error)
	IsConnected() bool
}

// DeviceMetrics records polled values. *influxdb.Client satisfies it.
type DeviceMetrics interface {
	WriteDeviceMetric(device, key string, value float64)
}

// ResolveFunc returns the reader serving a device name.
type ResolveFunc func(device string) (ValueReader, error)

// PollerOptions configures a Poller. Metrics and Logger are optional.
type PollerOptions struct {
	Points    []Point
	Interval  time.Duration
	Resolve   ResolveFunc
	Publisher StatePublisher
	Metrics   DeviceMetrics
	Topics    mqtt.Topics
	Logger    Logger
}

type boundPoint struct {
	Point
	reader ValueReader
}

// Poller reads configured points periodically and publishes changes.
//
// A value equal to the last one published for the same point is not
// republished; Reset forgets the last values.
type Poller struct {
	points    []boundPoint
	interval  time.Duration
	publisher StatePublisher
	metrics   DeviceMetrics
	topics    mqtt.Topics
	logger    Logger

	mu   sync.Mutex
	last map[Point]string
}

// NewPoller resolves every point's reader up front so configuration
// errors surface at startup.
func NewPoller(opts PollerOptions) (*Poller, error) {
	if opts.Resolve == nil {
		return nil, fmt.Errorf("resolve function is required")
	}
	p := &Poller{
		interval:  opts.Interval,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		topics:    opts.Topics,
		logger:    opts.Logger,
		last:      make(map[Point]string),
	}
	if p.interval <= 0 {
		p.interval = defaultTelemetryInterval
	}
	if p.logger == nil {
		p.logger = noopLogger{}
	}

	for _, pt := range opts.Points {
		if pt.Method == "" || pt.Key == "" {
			return nil, fmt.Errorf("telemetry point %s: method and key are required", pt.Device)
		}
		reader, err := opts.Resolve(pt.Device)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrUnknownDevice, pt.Device, err)
		}
		p.points = append(p.points, boundPoint{Point: pt, reader: reader})
	}
	return p, nil
}

// Run polls immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	p.Poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll reads every point once and returns how many changed values were
// published. Points whose session is down are skipped.
func (p *Poller) Poll(ctx context.Context) int {
	published := 0
	for _, pt := range p.points {
		if ctx.Err() != nil {
			return published
		}
		if !pt.reader.IsConnected() {
			continue
		}
		v, err := pt.reader.GetValue(ctx, pt.Method, pt.Key, rpc.KindNumber, rpc.KindBool, rpc.KindText)
		if err != nil {
			p.logger.Warn("telemetry read failed", "device", pt.Device, "method", pt.Method, "key", pt.Key, "error", err)
			continue
		}
		if !p.changed(pt.Point, v) {
			continue
		}
		if err := p.publish(pt.Point, v); err != nil {
			p.logger.Warn("telemetry publish failed", "device", pt.Device, "key", pt.Key, "error", err)
			p.forget(pt.Point)
			continue
		}
		p.record(pt.Point, v)
		published++
	}
	return published
}

// Reset forgets the last published values so the next poll republishes
// everything. Call it after the device server reconnects.
func (p *Poller) Reset() {
	p.mu.Lock()
	p.last = make(map[Point]string)
	p.mu.Unlock()
}

func (p *Poller) changed(pt Point, v rpc.Value) bool {
	s := v.String()
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.last[pt]; ok && prev == s {
		return false
	}
	p.last[pt] = s
	return true
}

func (p *Poller) forget(pt Point) {
	p.mu.Lock()
	delete(p.last, pt)
	p.mu.Unlock()
}

func (p *Poller) publish(pt Point, v rpc.Value) error {
	if p.publisher == nil {
		return nil
	}
	payload, err := json.Marshal(StateMessage{
		Device:    pt.Device,
		Key:       pt.Key,
		Value:     v,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return p.publisher.Publish(p.topics.DeviceState(pt.Device, pt.Key), payload, 1, true)
}

// record writes numeric and boolean values to the metrics store.
func (p *Poller) record(pt Point, v rpc.Value) {
	if p.metrics == nil {
		return
	}
	if f, ok := v.Number(); ok {
		p.metrics.WriteDeviceMetric(pt.Device, pt.Key, f)
		return
	}
	if b, ok := v.Bool(); ok {
		f := 0.0
		if b {
			f = 1
		}
		p.metrics.WriteDeviceMetric(pt.Device, pt.Key, f)
	}
}
