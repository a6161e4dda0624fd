// Package catalog holds the built-in scenarios and loads scenario
// definition files into a registry.
package catalog

import (
	"fmt"

	"github.com/ivoronin/fscrash/internal/scenario"
	"github.com/ivoronin/fscrash/internal/workload"
)

// Builtins returns fresh copies of the built-in definitions.
func Builtins() []*workload.Definition {
	return []*workload.Definition{
		Generic343(),
	}
}

// Registry returns a registry with every built-in scenario registered.
func Registry() *scenario.Registry {
	r := scenario.NewRegistry()
	for _, def := range Builtins() {
		if err := Register(r, def); err != nil {
			panic(err) // built-ins are static
		}
	}
	return r
}

// Register validates def and adds it to r under its name.
func Register(r *scenario.Registry, def *workload.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	return r.Register(def.Name(), def.Factory())
}

// RegisterFiles loads JSONC definitions and adds them to r.
func RegisterFiles(r *scenario.Registry, paths []string) error {
	for _, p := range paths {
		def, err := workload.Load(p)
		if err != nil {
			return err
		}
		if err := Register(r, def); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}
