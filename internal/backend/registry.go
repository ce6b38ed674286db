package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/astrorpc/internal/device"
	"github.com/nerrad567/astrorpc/internal/rpc"
)

// Backend is a set of device adapters over one transport.
type Backend interface {
	// Name returns the registered name of the backend.
	Name() string

	// Connect starts every session and waits until all are up or ctx is done.
	Connect(ctx context.Context) error

	// Disconnect stops every session.
	Disconnect() error

	// Connected reports whether every session is live.
	Connected() bool

	// Devices lists the enabled device kinds in a stable order.
	Devices() []device.Kind

	// Device returns the adapter for kind.
	Device(kind device.Kind) (device.Device, error)

	// Client returns the client serving kind.
	Client(kind device.Kind) (*rpc.Client, error)

	// Primary returns the client used for requests not tied to a device.
	Primary() *rpc.Client
}

// Options configures a backend at Open time.
type Options struct {
	RPC     rpc.Config
	Devices []device.Kind

	// Shared runs every device over one session.
	Shared bool

	Logger device.Logger
}

// Factory builds a backend.
type Factory func(opts Options) (Backend, error)

// Registry maps backend names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Default returns a new registry with the RPC backend registered.
func Default() *Registry {
	r := NewRegistry()
	if err := r.Register(NameRPC, NewRPC); err != nil {
		panic(err) // unreachable: the registry is empty
	}
	return r
}

// Register adds a factory under name.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("backend: register needs a name and a factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateBackend, name)
	}
	r.factories[name] = f
	return nil
}

// Open builds a new backend registered as name. Every call returns a
// distinct instance.
func (r *Registry) Open(name string, opts Options) (Backend, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (choices: %v)", ErrUnknownBackend, name, r.Choices())
	}
	return f(opts)
}

// Choices returns the registered names, sorted.
func (r *Registry) Choices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
