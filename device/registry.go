// Package device exposes echo channels as named devices. A Registry owns the
// channels; callers obtain permission-carrying handles through Open, the way
// a device node hands out file descriptors.
package device

import (
	"sort"
	"sync"

	"github.com/davrell/echodev/echo"
)

// Registry maps device names to live channels. Destroy removes the name from
// lookup before tearing the channel down, so no new handle can race the
// teardown.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*Device
}

func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*Device)}
}

// Create registers a new device backed by a fresh channel of the given
// capacity.
func (r *Registry) Create(name string, capacity int) (*Device, error) {
	ch, err := echo.New(capacity)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[name]; ok {
		return nil, ErrExists
	}

	dev := &Device{name: name, ch: ch}
	r.devices[name] = dev

	return dev, nil
}

// Lookup returns the named device.
func (r *Registry) Lookup(name string) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[name]
	if !ok {
		return nil, ErrNotFound
	}

	return dev, nil
}

// Destroy unregisters the named device and tears its channel down. Blocked
// readers and writers fail with echo.ErrClosed.
func (r *Registry) Destroy(name string) error {
	r.mu.Lock()
	dev, ok := r.devices[name]
	delete(r.devices, name)
	r.mu.Unlock()

	if !ok {
		return ErrNotFound
	}

	dev.ch.Close()
	return nil
}

// Close destroys every registered device.
func (r *Registry) Close() {
	r.mu.Lock()
	devices := r.devices
	r.devices = make(map[string]*Device)
	r.mu.Unlock()

	for _, dev := range devices {
		dev.ch.Close()
	}
}

// Names returns the registered device names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.devices))
	for name := range r.devices {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

// Device is a named channel endpoint.
type Device struct {
	name string
	ch   *echo.Channel
}

func (d *Device) Name() string {
	return d.name
}

// Open returns a handle with the requested access. A write-capable open bumps
// the channel's writer count.
func (d *Device) Open(flags Flag) (*Handle, error) {
	if flags&(ReadFlag|WriteFlag) == 0 || flags&^(ReadFlag|WriteFlag) != 0 {
		return nil, ErrInvalidFlags
	}

	if flags&WriteFlag != 0 {
		if err := d.ch.OpenWriter(); err != nil {
			return nil, err
		}
	}

	return &Handle{dev: d, flags: flags}, nil
}
