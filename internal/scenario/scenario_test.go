package scenario

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivoronin/fscrash/internal/oracle"
)

type stubScenario struct {
	name   string
	params map[string]string
}

func (s *stubScenario) Name() string        { return s.name }
func (s *stubScenario) Description() string { return "stub" }
func (s *stubScenario) Setup(*Env) error    { return nil }
func (s *stubScenario) Run(*Env) error      { return nil }
func (s *stubScenario) Check(string, uint) oracle.Outcome {
	return oracle.Outcome{Kind: oracle.Pass, Class: oracle.ClassPass}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"step error", &StepError{Phase: PhaseRun, Site: 3, Op: "rename", Err: errors.New("boom")}, -3},
		{"wrapped step error", fmt.Errorf("run: %w", &StepError{Phase: PhaseSetup, Site: 5, Err: errors.New("x")}), -5},
		{"siteless step error", &StepError{Phase: PhaseRun, Err: errors.New("x")}, -1},
		{"plain error", errors.New("boom"), -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Status(tt.err))
		})
	}
}

func TestStepErrorUnwrap(t *testing.T) {
	cause := errors.New("no space left")
	err := &StepError{Phase: PhaseRun, Site: 2, Op: "fsync", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "run step 2 (fsync): no space left", err.Error())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	factory := func(name string) Factory {
		return func(params map[string]string) (Scenario, error) {
			return &stubScenario{name: name, params: params}, nil
		}
	}
	require.NoError(t, r.Register("b", factory("b")))
	require.NoError(t, r.Register("a", factory("a")))

	assert.Equal(t, []string{"a", "b"}, r.Names())
	assert.ErrorIs(t, r.Register("a", factory("a")), ErrDuplicate)
	assert.Error(t, r.Register("", factory("")))

	first, err := r.New("a", map[string]string{"foo": "x"})
	require.NoError(t, err)
	second, err := r.New("a", nil)
	require.NoError(t, err)
	assert.NotSame(t, first, second, "each New must return a fresh instance")
	assert.Equal(t, "x", first.(*stubScenario).params["foo"])

	_, err = r.New("missing", nil)
	assert.ErrorIs(t, err, ErrUnknownScenario)
}

func TestRegistryFactoryError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("bad", func(map[string]string) (Scenario, error) {
		return nil, errors.New("bad params")
	}))

	_, err := r.New("bad", nil)
	assert.ErrorContains(t, err, "instantiate bad: bad params")
}

func TestParams(t *testing.T) {
	defaults := map[string]string{"dir_x": "test_dir_x", "foo": "foo"}

	got, err := Params(defaults, map[string]string{"foo": "renamed"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"dir_x": "test_dir_x", "foo": "renamed"}, got)
	assert.Equal(t, "foo", defaults["foo"], "defaults must not be modified")

	_, err = Params(defaults, map[string]string{"zeta": "1", "alpha": "2"})
	assert.ErrorContains(t, err, "[alpha zeta]")
}
