package scenario

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownScenario = errors.New("unknown scenario")
	ErrDuplicate       = errors.New("scenario already registered")
)

// Factory builds a fresh scenario instance from per-instance parameters
// (names of the directories and files it touches). Unset parameters take
// the scenario's defaults; unknown ones are an error.
type Factory func(params map[string]string) (Scenario, error)

// Registry maps scenario names to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" {
		return errors.New("register scenario: empty name")
	}
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("register %s: %w", name, ErrDuplicate)
	}
	r.factories[name] = f
	return nil
}

// New instantiates the scenario registered under name. Every call returns
// a new instance owned by the caller.
func (r *Registry) New(name string, params map[string]string) (Scenario, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScenario, name)
	}
	sc, err := f(params)
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", name, err)
	}
	return sc, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Params resolves per-instance parameters against defaults. Every key in
// params must name a default.
func Params(defaults, params map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(defaults))
	for k, v := range defaults {
		resolved[k] = v
	}
	var unknown []string
	for k, v := range params {
		if _, ok := defaults[k]; !ok {
			unknown = append(unknown, k)
			continue
		}
		resolved[k] = v
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown parameters: %v", unknown)
	}
	return resolved, nil
}
