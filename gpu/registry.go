package gpu

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Backend names.
const (
	BackendOpenGL   = "opengl"
	BackendSoftware = "software"
)

// BackendFactory opens a new device.
type BackendFactory func() (Device, error)

var (
	registryMu sync.RWMutex
	backends   = make(map[string]BackendFactory)
	// Priority order for Default (first that opens wins).
	backendPriority = []string{BackendOpenGL}
	// Backends Default never picks. The software device runs Go programs
	// registered by tests, not GLSL, so it must be requested by name.
	explicitOnly = []string{BackendSoftware}
)

// Register registers a backend factory under name. Backends call it from
// init. A later registration under the same name replaces the earlier one.
func Register(name string, factory BackendFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend. Useful in tests.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the registered backend names, sorted.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered reports whether a backend is registered under name.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Open opens a device from the named backend.
func Open(name string) (Device, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrNoBackend, name, Available())
	}
	return factory()
}

// Default opens the first backend in priority order that opens
// successfully, falling back to any other registered backend. The software
// backend is only opened by name.
func Default() (Device, error) {
	registryMu.RLock()
	order := slices.Clone(backendPriority)
	for name := range backends {
		if !slices.Contains(order, name) && !slices.Contains(explicitOnly, name) {
			order = append(order, name)
		}
	}
	registryMu.RUnlock()

	var errs []error
	for _, name := range order {
		if !IsRegistered(name) {
			continue
		}
		dev, err := Open(name)
		if err == nil {
			return dev, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no GPU backend registered (software is test-only and must be requested by name)", ErrNoBackend)
	}
	return nil, fmt.Errorf("%w: %w", ErrNoBackend, errors.Join(errs...))
}
