package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/astrorpc/internal/device"
	"github.com/nerrad567/astrorpc/internal/infrastructure/config"
	"github.com/nerrad567/astrorpc/internal/rpc"
)

// NameRPC is the registry name of the RPC backend.
const NameRPC = "RPC"

// ClientConfig converts the rpc section of the configuration file.
// Zero values fall through to the client defaults.
func ClientConfig(c config.RPCConfig) rpc.Config {
	return rpc.Config{
		Host:           c.Host,
		Port:           c.Port,
		RetryDelay:     time.Duration(c.RetryDelay) * time.Second,
		PollInterval:   time.Duration(c.PollIntervalMS) * time.Millisecond,
		RequestTimeout: time.Duration(c.RequestTimeout) * time.Second,
		ConnectTimeout: time.Duration(c.ConnectTimeout) * time.Second,
		WriteTimeout:   time.Duration(c.WriteTimeout) * time.Second,
		StaleAfter:     time.Duration(c.StaleAfter) * time.Second,
		QueueSize:      c.QueueSize,
		MaxFrameSize:   c.MaxFrameSize,
	}
}

// ParseDevices converts configured device names, dropping duplicates.
func ParseDevices(names []string) ([]device.Kind, error) {
	seen := make(map[device.Kind]bool, len(names))
	kinds := make([]device.Kind, 0, len(names))
	for _, n := range names {
		k, err := device.ParseKind(n)
		if err != nil {
			return nil, err
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// rpcBackend drives devices over the device-control server protocol.
type rpcBackend struct {
	kinds   []device.Kind
	devices map[device.Kind]device.Device
	clients map[device.Kind]*rpc.Client

	// sessions lists each distinct client once.
	sessions []*rpc.Client
	logger   device.Logger
}

// NewRPC builds the RPC backend. It is the Factory registered as NameRPC.
func NewRPC(opts Options) (Backend, error) {
	kinds := opts.Devices
	if len(kinds) == 0 {
		kinds = device.AllKinds
	}

	b := &rpcBackend{
		kinds:   append([]device.Kind(nil), kinds...),
		devices: make(map[device.Kind]device.Device, len(kinds)),
		clients: make(map[device.Kind]*rpc.Client, len(kinds)),
		logger:  opts.Logger,
	}

	var shared *rpc.Client
	for _, kind := range b.kinds {
		if _, dup := b.devices[kind]; dup {
			return nil, fmt.Errorf("backend: device %s listed twice", kind)
		}

		client := shared
		if client == nil {
			client = rpc.New(opts.RPC)
			if opts.Logger != nil {
				client.SetLogger(opts.Logger)
			}
			b.sessions = append(b.sessions, client)
			if opts.Shared {
				shared = client
			}
		}
		b.clients[kind] = client

		dev, err := newDevice(kind, client)
		if err != nil {
			return nil, err
		}
		if opts.Logger != nil {
			dev.SetLogger(opts.Logger)
		}
		b.devices[kind] = dev
	}
	return b, nil
}

// adapter is what every device adapter provides.
type adapter interface {
	device.Device
	SetLogger(device.Logger)
}

func newDevice(kind device.Kind, c rpc.Caller) (adapter, error) {
	switch kind {
	case device.KindCamera:
		return device.NewCamera(c), nil
	case device.KindFocuser:
		return device.NewFocuser(c), nil
	case device.KindFilterWheel:
		return device.NewFilterWheel(c), nil
	case device.KindMount:
		return device.NewMount(c), nil
	default:
		return nil, fmt.Errorf("backend: no RPC adapter for %q", kind)
	}
}

func (b *rpcBackend) Name() string { return NameRPC }

// Connect starts every session. Sessions keep retrying in the background
// when ctx ends first.
func (b *rpcBackend) Connect(ctx context.Context) error {
	var errs []error
	for _, c := range b.sessions {
		if err := c.Connect(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *rpcBackend) Disconnect() error {
	var errs []error
	for _, c := range b.sessions {
		if err := c.Disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *rpcBackend) Connected() bool {
	for _, c := range b.sessions {
		if !c.IsConnected() {
			return false
		}
	}
	return len(b.sessions) > 0
}

func (b *rpcBackend) Devices() []device.Kind {
	return append([]device.Kind(nil), b.kinds...)
}

func (b *rpcBackend) Device(kind device.Kind) (device.Device, error) {
	dev, ok := b.devices[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotEnabled, kind)
	}
	return dev, nil
}

func (b *rpcBackend) Client(kind device.Kind) (*rpc.Client, error) {
	c, ok := b.clients[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotEnabled, kind)
	}
	return c, nil
}

// Primary returns the session of the first enabled device.
func (b *rpcBackend) Primary() *rpc.Client {
	return b.sessions[0]
}
