package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/ivoronin/fscrash/internal/catalog"
	"github.com/ivoronin/fscrash/internal/checkpoint"
	"github.com/ivoronin/fscrash/internal/lifecycle"
	"github.com/ivoronin/fscrash/internal/scenario"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	mount         string
	stateDir      string
	logFormat     string
	scenarioFiles []string
	sets          []string
	verbose       bool
	noProgress    bool
}

// registry returns the built-in scenarios plus any --scenario-file definitions.
func (g *globalOptions) registry() (*scenario.Registry, error) {
	r := catalog.Registry()
	if err := catalog.RegisterFiles(r, g.scenarioFiles); err != nil {
		return nil, fmt.Errorf("load scenario file: %w", err)
	}
	return r, nil
}

func (g *globalOptions) format() (checkpoint.Format, error) {
	f, err := checkpoint.ParseFormat(g.logFormat)
	if err != nil {
		return "", fmt.Errorf("invalid --log-format: %w", err)
	}
	return f, nil
}

func (g *globalOptions) params() (map[string]string, error) {
	params, err := parseAssignments(g.sets)
	if err != nil {
		return nil, fmt.Errorf("invalid --set: %w", err)
	}
	return params, nil
}

// logPath returns where the checkpoint log of name lives.
func (g *globalOptions) logPath(name string, format checkpoint.Format) string {
	return filepath.Join(g.stateDir, logFileName(name, format))
}

// testCase instantiates name and resumes its lifecycle from the state dir.
func (g *globalOptions) testCase(name string, trace io.Writer, opts ...func(*lifecycle.Options)) (*lifecycle.TestCase, error) {
	reg, err := g.registry()
	if err != nil {
		return nil, err
	}
	params, err := g.params()
	if err != nil {
		return nil, err
	}
	format, err := g.format()
	if err != nil {
		return nil, err
	}
	sc, err := reg.New(name, params)
	if err != nil {
		return nil, err
	}

	lo := lifecycle.Options{
		Root:      g.mount,
		LogPath:   g.logPath(name, format),
		LogFormat: format,
		StatePath: filepath.Join(g.stateDir, name+".state.json"),
	}
	if g.verbose {
		lo.Trace = trace
	}
	for _, opt := range opts {
		opt(&lo)
	}
	return lifecycle.New(sc, lo)
}
