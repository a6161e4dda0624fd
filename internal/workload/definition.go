package workload

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/tailscale/hujson"

	"github.com/ivoronin/fscrash/internal/oracle"
	"github.com/ivoronin/fscrash/internal/scenario"
)

var ErrInvalidDefinition = errors.New("invalid scenario definition")

// Definition is a declarative scenario: scripts for Setup and Run plus the
// expectations that must hold at each checkpoint. Paths may reference vars
// as ${name}; vars carry defaults that instances can override.
//
// A Definition is a scenario.Scenario. Loaded definitions use their default
// vars; Instantiate produces instances with overrides.
type Definition struct {
	ScenarioName string                  `json:"name"`
	Summary      string                  `json:"description,omitempty"`
	Vars         map[string]string       `json:"vars,omitempty"`
	SetupSteps   Script                  `json:"setup"`
	RunSteps     Script                  `json:"run"`
	Expect       oracle.ExpectedStateSet `json:"expect"`
}

var (
	_ scenario.Scenario      = (*Definition)(nil)
	_ scenario.Parameterized = (*Definition)(nil)
)

// Load reads and validates a JSONC definition file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Parse decodes and validates a JSONC definition.
func Parse(data []byte) (*Definition, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid JSONC: %w", ErrInvalidDefinition, err)
	}

	var def Definition
	if err := json.Unmarshal(standardized, &def); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %w", ErrInvalidDefinition, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks ops, var references and checkpoint indices.
func (d *Definition) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidDefinition, d.ScenarioName, fmt.Sprintf(format, args...))
	}

	if d.ScenarioName == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidDefinition)
	}

	var unknown []string
	mapping := d.mapping(func(name string) { unknown = append(unknown, name) })

	scripts := []struct {
		phase  scenario.Phase
		script Script
	}{{scenario.PhaseSetup, d.SetupSteps}, {scenario.PhaseRun, d.RunSteps}}
	for _, sc := range scripts {
		phase := sc.phase
		for i, step := range sc.script {
			if err := step.validate(); err != nil {
				return invalid("%s step %d: %v", phase, i+1, err)
			}
			step = step.expand(mapping)
			for _, p := range []string{step.Path, step.Target} {
				if p != "" && !filepath.IsLocal(p) {
					return invalid("%s step %d: path %q escapes the mount root", phase, i+1, p)
				}
			}
		}
	}
	for _, step := range d.SetupSteps {
		if step.Op == OpCheckpoint {
			return invalid("checkpoint is only allowed in run")
		}
	}

	if hi, n := d.Expect.Highest(), d.RunSteps.Checkpoints(); hi > n {
		return invalid("expectation at checkpoint %d but run marks only %d", hi, n)
	}
	for k, exp := range d.Expect {
		if k == 0 {
			return invalid("expectation at checkpoint 0: nothing is promised before the first checkpoint")
		}
		for _, p := range expandExpectation(exp, mapping).Paths() {
			if !filepath.IsLocal(p) {
				return invalid("expectation path %q escapes the mount root", p)
			}
		}
	}

	if len(unknown) > 0 {
		sort.Strings(unknown)
		return invalid("undefined vars %v", unknown)
	}
	return nil
}

// Instantiate returns a copy of d with vars overridden by params. The
// instance is validated again, so an override cannot move a path outside
// the mount root.
func (d *Definition) Instantiate(params map[string]string) (*Definition, error) {
	vars, err := scenario.Params(d.Vars, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.ScenarioName, err)
	}
	inst := *d
	inst.Vars = vars
	if err := inst.Validate(); err != nil {
		return nil, err
	}
	return &inst, nil
}

// Factory returns a registry factory producing instances of d.
func (d *Definition) Factory() scenario.Factory {
	return func(params map[string]string) (scenario.Scenario, error) {
		inst, err := d.Instantiate(params)
		if err != nil {
			return nil, err
		}
		return inst, nil
	}
}

func (d *Definition) Name() string        { return d.ScenarioName }
func (d *Definition) Description() string { return d.Summary }

// Bindings returns the instance's resolved vars.
func (d *Definition) Bindings() map[string]string { return maps.Clone(d.Vars) }

// Setup runs the setup script with the instance's vars.
func (d *Definition) Setup(env *scenario.Env) error {
	return RunSetup(env, d.expandScript(d.SetupSteps))
}

// Run runs the workload script with the instance's vars.
func (d *Definition) Run(env *scenario.Env) error {
	return RunRun(env, d.expandScript(d.RunSteps))
}

// Check evaluates root against the instance's expectations.
func (d *Definition) Check(root string, last uint) oracle.Outcome {
	return oracle.Evaluate(root, d.Expectations(), last)
}

// Expectations returns the expected state set with vars substituted.
func (d *Definition) Expectations() oracle.ExpectedStateSet {
	mapping := d.mapping(nil)
	set := make(oracle.ExpectedStateSet, len(d.Expect))
	for k, exp := range d.Expect {
		set[k] = expandExpectation(exp, mapping)
	}
	return set
}

func (d *Definition) expandScript(s Script) Script {
	mapping := d.mapping(nil)
	out := make(Script, len(s))
	for i, step := range s {
		out[i] = step.expand(mapping)
	}
	return out
}

// mapping resolves var names for os.Expand, reporting undefined ones.
func (d *Definition) mapping(onUnknown func(string)) func(string) string {
	return func(name string) string {
		v, ok := d.Vars[name]
		if !ok && onUnknown != nil {
			onUnknown(name)
		}
		return v
	}
}

func expandPath(p string, mapping func(string) string) string {
	if p == "" {
		return ""
	}
	return path.Clean(os.Expand(p, mapping))
}

func expandExpectation(e oracle.Expectation, mapping func(string) string) oracle.Expectation {
	paths := func(in []string) []string {
		if in == nil {
			return nil
		}
		out := make([]string, len(in))
		for i, p := range in {
			out[i] = expandPath(p, mapping)
		}
		return out
	}

	out := oracle.Expectation{Absent: paths(e.Absent)}
	for _, p := range e.Present {
		out.Present = append(out.Present, oracle.EntrySpec{Path: expandPath(p.Path, mapping), Kind: p.Kind})
	}
	for _, m := range e.Moves {
		out.Moves = append(out.Moves, oracle.Move{Path: expandPath(m.Path, mapping), From: paths(m.From), Kind: m.Kind})
	}
	for _, l := range e.Links {
		out.Links = append(out.Links, oracle.Link{Paths: paths(l.Paths)})
	}
	return out
}
