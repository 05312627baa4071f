package runtime

import (
	"fmt"
	"maps"
	"slices"
)

// DefaultBackend is selected when no backend name is configured.
const DefaultBackend = "wazero"

// Factory creates a Backend from a backend-specific configuration value.
type Factory func(config any) (Backend, error)

var backendFactories = make(map[string]Factory)

// Register registers a backend factory. It is meant to be called from init
// functions and panics on a duplicate name.
func Register(name string, factory Factory) {
	if _, exists := backendFactories[name]; exists {
		panic(fmt.Sprintf("backend %s already registered", name))
	}
	backendFactories[name] = factory
}

// New creates a Backend by name and config
func New(name string, config any) (Backend, error) {
	if name == "" {
		name = DefaultBackend
	}

	factory, ok := backendFactories[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (registered: %v): %w", name, List(), ErrBackendNotFound)
	}

	return factory(config)
}

// List returns all registered backend names in sorted order.
func List() []string {
	return slices.Sorted(maps.Keys(backendFactories))
}
