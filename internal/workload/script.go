package workload

import (
	"errors"

	"github.com/ivoronin/fscrash/internal/checkpoint"
	"github.com/ivoronin/fscrash/internal/ops"
	"github.com/ivoronin/fscrash/internal/scenario"
)

// Script is an ordered list of steps executed strictly in sequence.
type Script []Step

// Exec runs the steps in order and stops at the first failure, returning a
// *scenario.StepError for it. A checkpoint whose recorder asks to halt ends
// the script early with checkpoint.ErrHalt; that is not a failure.
func (s Script) Exec(env *scenario.Env, phase scenario.Phase) error {
	for i, step := range s {
		err := step.apply(env)
		if errors.Is(err, checkpoint.ErrHalt) {
			return checkpoint.ErrHalt
		}
		if err != nil {
			return &scenario.StepError{Phase: phase, Site: siteOf(step, i), Op: string(step.Op), Err: err}
		}
	}
	return nil
}

// Checkpoints returns the number of checkpoint steps.
func (s Script) Checkpoints() uint {
	var n uint
	for _, step := range s {
		if step.Op == OpCheckpoint {
			n++
		}
	}
	return n
}

// Bytes returns the number of bytes the script's write steps produce.
func (s Script) Bytes() (int64, error) {
	var total int64
	for _, step := range s {
		if step.Op != OpWrite {
			continue
		}
		n, err := ops.ChunksSize(step.Chunks)
		if err != nil {
			return 0, err
		}
		total += n + int64(len(step.Data))
	}
	return total, nil
}

// RunSetup executes a Setup script, then issues a full sync barrier (unless
// the script already ends with one) and closes every descriptor.
func RunSetup(env *scenario.Env, s Script) error {
	err := s.Exec(env, scenario.PhaseSetup)
	if err == nil && (len(s) == 0 || s[len(s)-1].Op != OpSync) {
		if syncErr := env.Ops.SyncAll(); syncErr != nil {
			err = &scenario.StepError{Phase: scenario.PhaseSetup, Site: len(s) + 1, Op: string(OpSync), Err: syncErr}
		}
	}
	return release(env, scenario.PhaseSetup, len(s), err)
}

// RunRun executes a Run script and releases every descriptor it left open,
// whether or not it succeeded.
func RunRun(env *scenario.Env, s Script) error {
	return release(env, scenario.PhaseRun, len(s), s.Exec(env, scenario.PhaseRun))
}

// release closes descriptors. A close failure is reported only if the
// phase itself succeeded, at the site after the last step.
func release(env *scenario.Env, phase scenario.Phase, steps int, err error) error {
	closeErr := env.Ops.CloseAll()
	if (err == nil || errors.Is(err, checkpoint.ErrHalt)) && closeErr != nil {
		return &scenario.StepError{Phase: phase, Site: steps + 1, Op: string(OpClose), Err: closeErr}
	}
	return err
}

func siteOf(step Step, i int) int {
	if step.Site > 0 {
		return step.Site
	}
	return i + 1
}
