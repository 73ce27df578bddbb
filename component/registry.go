package component

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/alexitosrv/atlas/errors"
)

// Factory creates a component instance from its raw JSON configuration.
// Factories only parse and validate; connections are opened in Start or
// Connect, never in the factory.
type Factory func(rawConfig json.RawMessage, deps Dependencies) (Discoverable, error)

// Registration holds factory and metadata for a component type
type Registration struct {
	Name        string  `json:"name"`        // Factory name used in config (e.g. "sse", "nats")
	Type        string  `json:"type"`        // "input" or "output"
	Protocol    string  `json:"protocol"`    // Technical protocol (http, websocket, nats, mqtt, file)
	Description string  `json:"description"` // Human-readable description
	Version     string  `json:"version"`     // Component version
	Factory     Factory `json:"-"`
}

// Registry maps factory names to registrations. It is safe for concurrent
// use.
type Registry struct {
	factories map[string]*Registration
	mu        sync.RWMutex
}

// NewRegistry creates a new empty component registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]*Registration),
	}
}

// Register adds a factory. Names must be unique.
func (r *Registry) Register(registration Registration) error {
	if err := ValidateComponentName(registration.Name); err != nil {
		return errors.Wrap(err, "Registry", "Register", "factory name validation")
	}
	if registration.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "factory function validation")
	}
	if registration.Type != "input" && registration.Type != "output" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register",
			fmt.Sprintf("component type %q validation", registration.Type))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[registration.Name]; exists {
		return errors.WrapInvalid(fmt.Errorf("factory '%s' is already registered", registration.Name),
			"Registry", "Register", "duplicate factory check")
	}

	r.factories[registration.Name] = &registration
	return nil
}

// Create builds a component of the given type with the named factory.
func (r *Registry) Create(componentType, name string, rawConfig json.RawMessage, deps Dependencies) (Discoverable, error) {
	r.mu.RLock()
	registration, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		sentinel := errors.ErrUnsupportedSource
		if componentType == "output" {
			sentinel = errors.ErrUnsupportedSink
		}
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %q", sentinel, name), "Registry", "Create", "factory lookup")
	}
	if registration.Type != componentType {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: component '%s' is type '%s', not '%s'", errors.ErrInvalidConfig, name, registration.Type, componentType),
			"Registry", "Create", "type validation")
	}

	if err := ValidateJSONSize(rawConfig); err != nil {
		return nil, errors.Wrap(err, "Registry", "Create", "config size validation")
	}

	comp, err := registration.Factory(rawConfig, deps)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "Create", "factory execution")
	}
	return comp, nil
}

// List returns the registrations sorted by name.
func (r *Registry) List() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Registration, 0, len(r.factories))
	for _, reg := range r.factories {
		out = append(out, *reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
