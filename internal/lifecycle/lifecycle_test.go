//go:build unix && !e2e

package lifecycle

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivoronin/fscrash/internal/catalog"
	"github.com/ivoronin/fscrash/internal/checkpoint"
	"github.com/ivoronin/fscrash/internal/oracle"
	"github.com/ivoronin/fscrash/internal/scenario"
	"github.com/ivoronin/fscrash/internal/testfs"
)

// fakeScenario marks a fixed number of checkpoints and records its calls.
type fakeScenario struct {
	marks    int
	setupErr error
	runErr   error
	calls    []string
}

func (f *fakeScenario) Name() string        { return "fake" }
func (f *fakeScenario) Description() string { return "fake" }

func (f *fakeScenario) Setup(*scenario.Env) error {
	f.calls = append(f.calls, "setup")
	return f.setupErr
}

func (f *fakeScenario) Run(env *scenario.Env) error {
	f.calls = append(f.calls, "run")
	for i := 0; i < f.marks; i++ {
		if _, err := env.Checkpoints.Mark(); err != nil {
			return err
		}
	}
	return f.runErr
}

func (f *fakeScenario) Check(string, uint) oracle.Outcome {
	f.calls = append(f.calls, "check")
	return oracle.Outcome{Kind: oracle.Pass, Class: oracle.ClassPass}
}

func testOptions(t *testing.T) Options {
	t.Helper()
	dir := t.TempDir()
	return Options{
		Root:      t.TempDir(),
		LogPath:   filepath.Join(dir, "test.ckpt"),
		StatePath: filepath.Join(dir, "state", "test.json"),
	}
}

func newCase(t *testing.T, sc scenario.Scenario, opts Options) *TestCase {
	t.Helper()
	tc, err := New(sc, opts)
	require.NoError(t, err)
	return tc
}

func TestOutOfOrderCallsDoNotExecute(t *testing.T) {
	sc := &fakeScenario{marks: 1}
	tc := newCase(t, sc, testOptions(t))

	assert.ErrorIs(t, tc.Run(), ErrOutOfOrder)
	assert.Empty(t, sc.calls)
	assert.Equal(t, Created, tc.Phase())

	require.NoError(t, tc.Setup())
	assert.ErrorIs(t, tc.Setup(), ErrOutOfOrder)
	assert.Equal(t, []string{"setup"}, sc.calls)
}

func TestCheckBeforeFirstCheckpointIsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, tc *TestCase)
		phase   Phase
	}{
		{"created", func(*testing.T, *TestCase) {}, Created},
		{"setup done", func(t *testing.T, tc *TestCase) { require.NoError(t, tc.Setup()) }, SetupDone},
		{"run marked nothing", func(t *testing.T, tc *TestCase) {
			require.NoError(t, tc.Setup())
			require.ErrorIs(t, tc.Run(), ErrNoCheckpoint)
		}, Failed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := &fakeScenario{}
			tc := newCase(t, sc, testOptions(t))
			tt.prepare(t, tc)

			for _, last := range []uint{0, 1} {
				out, err := tc.Check(last)
				require.NoError(t, err)
				assert.Equal(t, oracle.MalformedScenario, out.Kind)
				assert.Equal(t, oracle.ClassError, out.Class)
				assert.Contains(t, out.Description, "before any checkpoint")
			}
			assert.NotContains(t, sc.calls, "check")
			assert.Equal(t, tt.phase, tc.Phase())
		})
	}
}

func TestCheckAfterFailedRunWithCheckpoints(t *testing.T) {
	runErr := errors.New("EIO")
	tc := newCase(t, &fakeScenario{marks: 1, runErr: runErr}, testOptions(t))
	require.NoError(t, tc.Setup())
	require.ErrorIs(t, tc.Run(), runErr)

	_, err := tc.Check(1)
	assert.ErrorIs(t, err, ErrOutOfOrder)
}

func TestSetupFailureIsTerminal(t *testing.T) {
	opts := testOptions(t)
	sc := &fakeScenario{setupErr: &scenario.StepError{Phase: scenario.PhaseSetup, Site: 3, Op: "create", Err: errors.New("boom")}}
	tc := newCase(t, sc, opts)

	err := tc.Setup()
	assert.Equal(t, -3, scenario.Status(err))
	assert.Equal(t, Failed, tc.Phase())
	assert.ErrorIs(t, tc.Run(), ErrOutOfOrder)
	assert.ErrorIs(t, tc.Setup(), ErrOutOfOrder)

	var st state
	data, err := os.ReadFile(opts.StatePath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &st))
	assert.Equal(t, Failed, st.Phase)
	assert.Equal(t, -3, st.Status)
	assert.Contains(t, st.Error, "boom")
}

func TestRunWithoutCheckpointIsMalformed(t *testing.T) {
	tc := newCase(t, &fakeScenario{}, testOptions(t))
	require.NoError(t, tc.Setup())

	assert.ErrorIs(t, tc.Run(), ErrNoCheckpoint)
	assert.Equal(t, Failed, tc.Phase())
}

func TestRunFailure(t *testing.T) {
	runErr := &scenario.StepError{Phase: scenario.PhaseRun, Site: 2, Op: "rename", Err: errors.New("EIO")}
	tc := newCase(t, &fakeScenario{marks: 1, runErr: runErr}, testOptions(t))
	require.NoError(t, tc.Setup())

	err := tc.Run()
	assert.ErrorIs(t, err, runErr)
	assert.Equal(t, Failed, tc.Phase())
	assert.Equal(t, uint(1), tc.Checkpoints())
}

func TestHaltAfterIsCleanStop(t *testing.T) {
	opts := testOptions(t)
	opts.HaltAfter = 2
	tc := newCase(t, &fakeScenario{marks: 3}, opts)
	require.NoError(t, tc.Setup())

	require.NoError(t, tc.Run())
	assert.Equal(t, RunDone, tc.Phase())
	assert.Equal(t, uint(2), tc.Checkpoints())

	indices, err := checkpoint.Replay(opts.LogPath, checkpoint.FormatText)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2}, indices)
}

func TestCheckMalformed(t *testing.T) {
	opts := testOptions(t)
	sc := &fakeScenario{marks: 2}
	tc := newCase(t, sc, opts)
	require.NoError(t, tc.Setup())
	require.NoError(t, tc.Run())

	out, err := tc.Check(3)
	require.NoError(t, err)
	assert.Equal(t, oracle.MalformedScenario, out.Kind)
	assert.Equal(t, oracle.ClassError, out.Class)
	assert.Contains(t, out.Description, "highest is 2")
	assert.NotContains(t, sc.calls, "check", "scenario must not judge an unknown checkpoint")

	out, err = tc.Check(2)
	require.NoError(t, err)
	assert.True(t, out.Passed())
	assert.Equal(t, Checked, tc.Phase())
}

func TestCheckEmptyLogIsMalformed(t *testing.T) {
	opts := testOptions(t)
	writeState(t, opts.StatePath, state{Scenario: "fake", Phase: Running})
	log, err := checkpoint.Create(opts.LogPath, checkpoint.FormatText)
	require.NoError(t, err)
	require.NoError(t, log.Close())

	tc := newCase(t, &fakeScenario{}, opts)
	out, err := tc.Check(0)
	require.NoError(t, err)
	assert.Equal(t, oracle.MalformedScenario, out.Kind)
	assert.Contains(t, out.Description, "no checkpoint")
}

func TestCheckAfterInterruptedRun(t *testing.T) {
	opts := testOptions(t)
	writeState(t, opts.StatePath, state{Scenario: "fake", Phase: Running})
	log, err := checkpoint.Create(opts.LogPath, checkpoint.FormatText)
	require.NoError(t, err)
	require.NoError(t, log.Append(1))
	require.NoError(t, log.Close())

	sc := &fakeScenario{}
	tc := newCase(t, sc, opts)
	out, err := tc.Check(1)
	require.NoError(t, err)
	assert.True(t, out.Passed())
	assert.Equal(t, []string{"check"}, sc.calls)
}

func TestStateMismatch(t *testing.T) {
	opts := testOptions(t)
	writeState(t, opts.StatePath, state{Scenario: "other", Phase: SetupDone})

	_, err := New(&fakeScenario{}, opts)
	assert.ErrorIs(t, err, ErrStateMismatch)
}

// boundScenario is a fakeScenario instantiated with names.
type boundScenario struct {
	fakeScenario
	names map[string]string
}

func (b *boundScenario) Bindings() map[string]string { return b.names }

func TestStateBindingsMismatch(t *testing.T) {
	opts := testOptions(t)
	tc := newCase(t, &boundScenario{fakeScenario{marks: 1}, map[string]string{"dir": "a"}}, opts)
	require.NoError(t, tc.Setup())
	require.NoError(t, tc.Run())

	var st state
	data, err := os.ReadFile(opts.StatePath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &st))
	assert.Equal(t, map[string]string{"dir": "a"}, st.Params)

	_, err = New(&boundScenario{names: map[string]string{"dir": "b"}}, opts)
	assert.ErrorIs(t, err, ErrStateMismatch)
	_, err = New(&fakeScenario{}, opts)
	assert.ErrorIs(t, err, ErrStateMismatch, "unbound instance of a bound test case")

	out, err := newCase(t, &boundScenario{names: map[string]string{"dir": "a"}}, opts).Check(1)
	require.NoError(t, err)
	assert.True(t, out.Passed())
}

func TestFreshIgnoresPersistedState(t *testing.T) {
	opts := testOptions(t)
	tc := newCase(t, &fakeScenario{}, opts)
	require.NoError(t, tc.Setup())
	require.Error(t, tc.Run())

	opts.Fresh = true
	tc = newCase(t, &boundScenario{names: map[string]string{"dir": "b"}}, opts)
	assert.Equal(t, Created, tc.Phase())
	require.NoError(t, tc.Setup())

	opts.Fresh = false
	assert.Equal(t, SetupDone, newCase(t, &boundScenario{names: map[string]string{"dir": "b"}}, opts).Phase())
}

// TestGeneric343AcrossProcesses drives each phase through a fresh TestCase,
// as a harness does around a crash.
func TestGeneric343AcrossProcesses(t *testing.T) {
	for _, format := range []checkpoint.Format{checkpoint.FormatText, checkpoint.FormatBolt} {
		t.Run(string(format), func(t *testing.T) {
			h := testfs.New(t, testfs.Tree{})
			opts := testOptions(t)
			opts.Root = h.Root()
			opts.LogFormat = format

			reopen := func() *TestCase {
				sc, err := catalog.Registry().New("generic_343", nil)
				require.NoError(t, err)
				return newCase(t, sc, opts)
			}

			require.NoError(t, reopen().Setup())
			assert.Equal(t, SetupDone, reopen().Phase())

			require.NoError(t, reopen().Run())
			tc := reopen()
			assert.Equal(t, RunDone, tc.Phase())
			assert.Equal(t, uint(1), tc.Checkpoints())

			out, err := tc.Check(1)
			require.NoError(t, err)
			assert.True(t, out.Passed(), out.String())

			// Another crash state of the same run: the link was lost.
			require.NoError(t, os.Remove(filepath.Join(h.Root(), "test_dir_x", "bar")))
			out, err = reopen().Check(1)
			require.NoError(t, err)
			assert.Equal(t, oracle.LinkInvariantBroken, out.Kind)
		})
	}
}

func writeState(t *testing.T, path string, st state) {
	t.Helper()
	data, err := json.Marshal(st)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}
