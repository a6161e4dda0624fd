// Package scenario defines the contract between a crash harness and one
// crash-consistency test case.
//
// A scenario goes through three phases around an externally injected crash:
//
//	Setup(env)       build the initial tree and make it durable
//	Run(env)         mutate, persist and mark checkpoints
//	   ~~~ crash, remount ~~~
//	Check(root, n)   judge the recovered tree against checkpoint n
//
// Setup and Run report failures as errors whose Status is a negative,
// per-site code. Check never fails: every result, including a malformed
// test, is an oracle.Outcome.
package scenario

import (
	"errors"
	"fmt"

	"github.com/ivoronin/fscrash/internal/checkpoint"
	"github.com/ivoronin/fscrash/internal/ops"
	"github.com/ivoronin/fscrash/internal/oracle"
)

// Scenario is one crash-consistency test.
type Scenario interface {
	// Name identifies the scenario in registries, logs and reports.
	Name() string

	// Description is a one-line summary for listings.
	Description() string

	// Setup builds the initial state under env.Root and makes it durable.
	Setup(env *Env) error

	// Run performs the workload, marking checkpoints through env.Checkpoints.
	Run(env *Env) error

	// Check evaluates the recovered tree under root given the last
	// checkpoint the harness reports as reached.
	Check(root string, last uint) oracle.Outcome
}

// Parameterized is implemented by scenarios whose names are bound per
// instance. Every phase of one test case must see the same bindings.
type Parameterized interface {
	Bindings() map[string]string
}

// Bindings returns the resolved names of sc, or nil if it has none.
func Bindings(sc Scenario) map[string]string {
	if p, ok := sc.(Parameterized); ok {
		return p.Bindings()
	}
	return nil
}

// Env is what a phase may touch: the primitives bound to the mount root and,
// during Run, the checkpoint recorder.
type Env struct {
	Root        string
	Ops         *ops.Ops
	Checkpoints *checkpoint.Recorder // nil during Setup
}

// Phase names the scenario phase a failure happened in.
type Phase string

const (
	PhaseSetup Phase = "setup"
	PhaseRun   Phase = "run"
)

// ErrNoRecorder is returned when a checkpoint is requested outside Run.
var ErrNoRecorder = errors.New("no checkpoint recorder in this phase")

// StepError is a fatal Setup or Run failure at one failure site.
type StepError struct {
	Phase Phase
	Site  int    // 1-based, distinct per failing operation
	Op    string // Operation name, e.g. "rename"
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step %d (%s): %v", e.Phase, e.Site, e.Op, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Status is the harness-visible code for the failure: -Site.
func (e *StepError) Status() int { return -e.Site }

// Status maps a phase result to the harness status code: 0 for success,
// -site for a StepError, -1 for anything else.
func Status(err error) int {
	if err == nil {
		return 0
	}
	var se *StepError
	if errors.As(err, &se) && se.Site > 0 {
		return se.Status()
	}
	return -1
}
