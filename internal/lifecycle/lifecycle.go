// Package lifecycle drives one scenario instance through its phases and
// enforces their order.
//
//	Created ──Setup──► SetupDone ──Run──► Running ──► RunDone ──Check──► Checked
//	   │                  │                  │           ▲                  │
//	   └──────────────────┴──────────────────┴─► Failed  └──────Check───────┘
//
// The phase is persisted in a state file outside the mount so that Setup,
// Run and Check can be separate processes around the crash. A crash during
// Run leaves the phase at Running; Check accepts it, since the checkpoint
// log tells how far the workload got. Nothing about
// the filesystem itself is persisted: Check always reads the recovered
// tree afresh.
package lifecycle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"

	"github.com/ivoronin/fscrash/internal/checkpoint"
	"github.com/ivoronin/fscrash/internal/ops"
	"github.com/ivoronin/fscrash/internal/oracle"
	"github.com/ivoronin/fscrash/internal/scenario"
)

// Phase is the lifecycle state of a test case.
type Phase string

const (
	Created   Phase = "created"
	SetupDone Phase = "setup-done"
	Running   Phase = "running" // Run started and has not returned
	RunDone   Phase = "run-done"
	Checked   Phase = "checked"
	Failed    Phase = "failed"
)

var (
	ErrOutOfOrder    = errors.New("phase called out of order")
	ErrNoCheckpoint  = errors.New("run marked no checkpoint")
	ErrStateMismatch = errors.New("state file belongs to another scenario instance")
)

// Options configures a TestCase.
type Options struct {
	Root      string            // Mount root the scenario operates on
	LogPath   string            // Checkpoint log, outside the mount
	LogFormat checkpoint.Format // Defaults to text
	StatePath string            // Phase state file; empty keeps state in memory
	Fresh     bool              // Ignore any persisted state and start at Created
	HaltAfter uint              // Stop Run after this checkpoint (0 = never)
	Trace     io.Writer         // Receives one line per primitive when set
}

// state is the persisted part of a TestCase.
type state struct {
	Scenario    string            `json:"scenario"`
	Params      map[string]string `json:"params,omitempty"` // Resolved instance bindings
	Phase       Phase             `json:"phase"`
	Checkpoints uint              `json:"checkpoints"` // Marked by the last Run
	Status      int               `json:"status"`      // Harness status of the failing phase
	Error       string            `json:"error,omitempty"`
}

// TestCase owns one scenario instance against one mount root.
type TestCase struct {
	sc    scenario.Scenario
	opts  Options
	state state
}

// New creates a TestCase, resuming the phase from opts.StatePath if it
// exists and opts.Fresh is unset. A persisted state of another scenario, or
// of the same scenario with other bindings, is ErrStateMismatch.
func New(sc scenario.Scenario, opts Options) (*TestCase, error) {
	if opts.LogFormat == "" {
		opts.LogFormat = checkpoint.FormatText
	}
	tc := &TestCase{
		sc:    sc,
		opts:  opts,
		state: state{Scenario: sc.Name(), Params: scenario.Bindings(sc), Phase: Created},
	}
	if opts.Fresh {
		return tc, nil
	}
	if err := tc.load(); err != nil {
		return nil, err
	}
	return tc, nil
}

// Phase returns the current phase.
func (tc *TestCase) Phase() Phase { return tc.state.Phase }

// Checkpoints returns the number of checkpoints the last Run marked.
func (tc *TestCase) Checkpoints() uint { return tc.state.Checkpoints }

// Scenario returns the scenario instance.
func (tc *TestCase) Scenario() scenario.Scenario { return tc.sc }

// Setup builds the initial state. Created → SetupDone, or Failed.
func (tc *TestCase) Setup() error {
	if err := tc.require(Created); err != nil {
		return err
	}

	o := ops.New(tc.opts.Root, ops.WithTrace(tc.opts.Trace))
	err := tc.sc.Setup(&scenario.Env{Root: tc.opts.Root, Ops: o})
	err = errors.Join(err, o.CloseAll())
	if err != nil {
		return tc.fail(err)
	}

	tc.state.Phase = SetupDone
	return tc.save()
}

// Run performs the workload against a fresh checkpoint log.
// SetupDone → RunDone once at least one checkpoint was marked, or Failed.
func (tc *TestCase) Run() error {
	if err := tc.require(SetupDone); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(tc.opts.LogPath), 0o755); err != nil {
		return tc.fail(fmt.Errorf("create log dir: %w", err))
	}
	log, err := checkpoint.Create(tc.opts.LogPath, tc.opts.LogFormat)
	if err != nil {
		return tc.fail(err)
	}
	var recOpts []checkpoint.Option
	if tc.opts.HaltAfter > 0 {
		recOpts = append(recOpts, checkpoint.WithHaltAfter(tc.opts.HaltAfter))
	}
	rec := checkpoint.NewRecorder(log, recOpts...)
	tc.state.Phase = Running
	tc.state.Checkpoints = 0
	if err := tc.save(); err != nil {
		return errors.Join(err, rec.Close())
	}
	o := ops.New(tc.opts.Root, ops.WithTrace(tc.opts.Trace))

	err = tc.sc.Run(&scenario.Env{Root: tc.opts.Root, Ops: o, Checkpoints: rec})
	if errors.Is(err, checkpoint.ErrHalt) {
		err = nil
	}
	if closeErr := errors.Join(o.CloseAll(), rec.Close()); err == nil && closeErr != nil {
		err = closeErr
	}
	tc.state.Checkpoints = rec.Last()
	if err != nil {
		return tc.fail(err)
	}
	if rec.Last() == 0 {
		return tc.fail(fmt.Errorf("%s: %w", tc.sc.Name(), ErrNoCheckpoint))
	}

	tc.state.Phase = RunDone
	return tc.save()
}

// Check judges the recovered tree at Root against checkpoint last.
// RunDone, Running (interrupted by the crash) or Checked (another crash
// state) → Checked.
//
// Before any checkpoint was marked (Created, SetupDone, or Failed with no
// checkpoint) the outcome is MalformedScenario and the phase is unchanged.
// The error is reserved for lifecycle failures; every verdict, including a
// malformed test, is an Outcome.
func (tc *TestCase) Check(last uint) (oracle.Outcome, error) {
	if tc.unmarked() {
		return oracle.Malformed(last, "%s: check before any checkpoint was marked (phase %s)", tc.sc.Name(), tc.state.Phase), nil
	}
	if err := tc.require(RunDone, Running, Checked); err != nil {
		return oracle.Outcome{}, err
	}

	out := tc.evaluate(last)
	tc.state.Phase = Checked
	return out, tc.save()
}

func (tc *TestCase) evaluate(last uint) oracle.Outcome {
	indices, err := checkpoint.Replay(tc.opts.LogPath, tc.opts.LogFormat)
	if err != nil {
		return oracle.Malformed(last, "replay checkpoint log: %v", err)
	}
	if len(indices) == 0 {
		return oracle.Malformed(last, "no checkpoint was recorded")
	}
	if highest := indices[len(indices)-1]; last > highest {
		return oracle.Malformed(last, "checkpoint %d was never recorded (highest is %d)", last, highest)
	}
	return tc.sc.Check(tc.opts.Root, last)
}

// unmarked reports whether no Run of this test case has marked a checkpoint.
func (tc *TestCase) unmarked() bool {
	switch tc.state.Phase {
	case Created, SetupDone:
		return true
	case Failed:
		return tc.state.Checkpoints == 0
	default:
		return false
	}
}

func (tc *TestCase) require(allowed ...Phase) error {
	for _, p := range allowed {
		if tc.state.Phase == p {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is %s, want %v", ErrOutOfOrder, tc.sc.Name(), tc.state.Phase, allowed)
}

// fail moves to the terminal Failed phase and returns err.
func (tc *TestCase) fail(err error) error {
	tc.state.Phase = Failed
	tc.state.Status = scenario.Status(err)
	tc.state.Error = err.Error()
	if saveErr := tc.save(); saveErr != nil {
		return errors.Join(err, saveErr)
	}
	return err
}

func (tc *TestCase) load() error {
	if tc.opts.StatePath == "" {
		return nil
	}
	data, err := os.ReadFile(tc.opts.StatePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parse state %s: %w", tc.opts.StatePath, err)
	}
	if st.Scenario != tc.sc.Name() {
		return fmt.Errorf("%w: %s has %q, want %q", ErrStateMismatch, tc.opts.StatePath, st.Scenario, tc.sc.Name())
	}
	if !maps.Equal(st.Params, tc.state.Params) {
		return fmt.Errorf("%w: %s was started with params %v, got %v", ErrStateMismatch, tc.opts.StatePath, st.Params, tc.state.Params)
	}
	tc.state = st
	return nil
}

func (tc *TestCase) save() error {
	if tc.opts.StatePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(tc.state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(tc.opts.StatePath), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := atomic.WriteFile(tc.opts.StatePath, bytes.NewReader(append(data, '\n'))); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}
