// Package selftest validates scenarios without a crash.
//
// On a scratch root, with nothing lost, every scenario must satisfy its own
// expectations:
//
//  1. Round trip: a full Setup and Run marks N >= 1 checkpoints and Check(N)
//     passes.
//  2. Monotonic consistency: for every k < N, a Run halted right after
//     checkpoint k passes Check(k). A failure means the expectation for k
//     depends on operations issued after k, so the test itself is wrong.
package selftest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ivoronin/fscrash/internal/checkpoint"
	"github.com/ivoronin/fscrash/internal/lifecycle"
	"github.com/ivoronin/fscrash/internal/oracle"
	"github.com/ivoronin/fscrash/internal/progress"
	"github.com/ivoronin/fscrash/internal/scenario"
)

// ErrIllFormed is reported when a halted run fails its own checkpoint.
var ErrIllFormed = errors.New("expectation depends on operations after its checkpoint")

// Options configures validation.
type Options struct {
	Params     map[string]string // Instance parameters for every scenario
	ScratchDir string            // Parent of the per-run scratch roots
	LogFormat  checkpoint.Format
	Progress   io.Writer // Progress bar output; nil disables it
	Trace      io.Writer // Primitive trace; nil disables it
}

// RunReport is the result of one validation run.
type RunReport struct {
	HaltAfter uint // 0 for the full round trip
	Outcome   oracle.Outcome
	Err       error
}

// Passed reports whether the run completed and passed.
func (r RunReport) Passed() bool { return r.Err == nil && r.Outcome.Passed() }

func (r RunReport) String() string {
	label := "round trip"
	if r.HaltAfter > 0 {
		label = fmt.Sprintf("halt after %d", r.HaltAfter)
	}
	if r.Err != nil {
		return fmt.Sprintf("%s: %v", label, r.Err)
	}
	return fmt.Sprintf("%s: %v", label, r.Outcome)
}

// Report is the validation result of one scenario.
type Report struct {
	Scenario    string
	Checkpoints uint // Marked by the full run
	Runs        []RunReport
	Err         error // Instantiation failure
}

// Passed reports whether every run passed.
func (r Report) Passed() bool {
	if r.Err != nil || len(r.Runs) == 0 {
		return false
	}
	for _, run := range r.Runs {
		if !run.Passed() {
			return false
		}
	}
	return true
}

// stats tracks validation progress.
type stats struct {
	totalScenarios int
	doneScenarios  int
	runs           int
	failed         int
	startTime      time.Time
}

func (s *stats) String() string {
	return fmt.Sprintf("Validated %d/%d scenarios in %d runs, %d failed in %.1fs",
		s.doneScenarios, s.totalScenarios, s.runs, s.failed, time.Since(s.startTime).Seconds())
}

// Validate runs both checks for every named scenario, one after another.
func Validate(reg *scenario.Registry, names []string, opts Options) []Report {
	bar := progress.New(opts.Progress, int64(len(names)))
	st := &stats{totalScenarios: len(names), startTime: time.Now()}
	bar.Describe(st)

	reports := make([]Report, 0, len(names))
	for _, name := range names {
		r := validateOne(reg, name, opts, func(run RunReport) {
			st.runs++
			if !run.Passed() {
				st.failed++
			}
			bar.Describe(st)
		})
		st.doneScenarios++
		bar.Add(1)
		bar.Describe(st)
		reports = append(reports, r)
	}

	bar.Finish(st)
	return reports
}

func validateOne(reg *scenario.Registry, name string, opts Options, onRun func(RunReport)) Report {
	r := Report{Scenario: name}

	full, n := execute(reg, name, 0, opts)
	r.Runs = append(r.Runs, full)
	r.Checkpoints = n
	onRun(full)
	if full.Err != nil {
		return r
	}

	for k := uint(1); k < n; k++ {
		run, reached := execute(reg, name, k, opts)
		if run.Err == nil && reached != k {
			run.Err = fmt.Errorf("halted run reached checkpoint %d, want %d", reached, k)
		}
		if run.Err == nil && !run.Outcome.Passed() {
			run.Err = fmt.Errorf("%w: %v", ErrIllFormed, run.Outcome)
		}
		r.Runs = append(r.Runs, run)
		onRun(run)
	}
	return r
}

// execute performs Setup, Run (halted after k when k > 0) and Check on a
// fresh scratch root and a fresh scenario instance.
func execute(reg *scenario.Registry, name string, haltAfter uint, opts Options) (RunReport, uint) {
	report := RunReport{HaltAfter: haltAfter}

	sc, err := reg.New(name, opts.Params)
	if err != nil {
		report.Err = err
		return report, 0
	}

	scratch, err := os.MkdirTemp(opts.ScratchDir, name+"-")
	if err != nil {
		report.Err = fmt.Errorf("create scratch dir: %w", err)
		return report, 0
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	root := filepath.Join(scratch, "mnt")
	if err := os.Mkdir(root, 0o755); err != nil {
		report.Err = fmt.Errorf("create scratch root: %w", err)
		return report, 0
	}

	tc, err := lifecycle.New(sc, lifecycle.Options{
		Root:      root,
		LogPath:   filepath.Join(scratch, name+".ckpt"),
		LogFormat: opts.LogFormat,
		HaltAfter: haltAfter,
		Trace:     opts.Trace,
	})
	if err != nil {
		report.Err = err
		return report, 0
	}

	if err := tc.Setup(); err != nil {
		report.Err = fmt.Errorf("setup (status %d): %w", scenario.Status(err), err)
		return report, 0
	}
	if err := tc.Run(); err != nil {
		report.Err = fmt.Errorf("run (status %d): %w", scenario.Status(err), err)
		return report, tc.Checkpoints()
	}

	last := tc.Checkpoints()
	report.Outcome, err = tc.Check(last)
	report.Err = err
	return report, last
}
