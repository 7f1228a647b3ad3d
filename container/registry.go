package container

import (
	"fmt"
	"sync"

	"github.com/justapithecus/flume/log"
)

// cleaner is implemented by components that release resources.
type cleaner interface{ Cleanup() error }

// closer matches the conventional Close shape.
type closer interface{ Close() error }

// Registry is the container-scoped component store: one instance per
// component name per container. Cleanup runs in reverse insertion
// order, so components built later (which may depend on earlier ones)
// release first.
type Registry struct {
	mu        sync.Mutex
	instances map[string]any
	order     []string
	logger    *log.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *log.Logger) *Registry {
	return &Registry{
		instances: make(map[string]any),
		logger:    logger,
	}
}

// Register stores an instance under name. Re-registering a live name
// is an error: the container owns exactly one instance per component.
func (r *Registry) Register(name string, instance any) error {
	if instance == nil {
		return fmt.Errorf("cannot register nil component %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[name]; exists {
		return fmt.Errorf("component %q already registered", name)
	}
	r.instances[name] = instance
	r.order = append(r.order, name)
	return nil
}

// Get returns the instance for name, or nil when absent.
func (r *Registry) Get(name string) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.instances[name]
}

// GetOrCreate returns the existing instance or atomically runs factory
// and registers the result.
func (r *Registry) GetOrCreate(name string, factory func() (any, error)) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if instance, ok := r.instances[name]; ok {
		return instance, nil
	}
	instance, err := factory()
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, fmt.Errorf("factory for %q produced nil", name)
	}
	r.instances[name] = instance
	r.order = append(r.order, name)
	return instance, nil
}

// Len returns the number of registered components.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// Cleanup closes every component that declares Cleanup or Close, in
// reverse insertion order, then clears the registry. Failures are
// logged and do not stop the sweep.
func (r *Registry) Cleanup() {
	r.mu.Lock()
	order := r.order
	instances := r.instances
	r.order = nil
	r.instances = make(map[string]any)
	r.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		instance := instances[name]

		var err error
		switch c := instance.(type) {
		case cleaner:
			err = c.Cleanup()
		case closer:
			err = c.Close()
		default:
			continue
		}
		if err != nil {
			r.logger.Warn("component cleanup failed", map[string]any{
				"component": name,
				"error":     err.Error(),
			})
		}
	}
}
