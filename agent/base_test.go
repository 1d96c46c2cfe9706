package agent

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBody struct {
	setupErr    error
	runErr      error
	teardownErr error
}

func (f *fakeBody) Setup(ctx context.Context) error    { return f.setupErr }
func (f *fakeBody) Run(ctx context.Context, stop <-chan struct{}) error {
	return f.runErr
}
func (f *fakeBody) Teardown(ctx context.Context) error { return f.teardownErr }

func TestIsRunnable_TrueAfterSetup(t *testing.T) {
	a := New(Config{Name: "a"}, &fakeBody{}, nil)
	require.NoError(t, a.Setup(context.Background()))
	assert.True(t, a.IsRunnable())
}

func TestIsRunnable_FalseOnFailedState(t *testing.T) {
	a := New(Config{Name: "a"}, &fakeBody{}, nil)
	a.Skip()
	assert.Equal(t, StateSkipped, a.CurrentState())
	assert.False(t, a.IsRunnable())
}

func TestIsRunnable_FalseOnPendingException(t *testing.T) {
	a := New(Config{Name: "a"}, &fakeBody{}, nil)
	require.NoError(t, a.Setup(context.Background()))
	require.True(t, a.IsRunnable())

	a.PushException(errors.New("boom"))
	assert.False(t, a.IsRunnable())
}

// TestIsRunnable_FalseWhenSudoRequiredAndUnprivileged exercises the
// spec's privilege-error path: a sudo_required agent is not runnable
// unless the process has euid 0, which this test process normally
// doesn't.
func TestIsRunnable_FalseWhenSudoRequiredAndUnprivileged(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("test process runs as root; sudo-required predicate is trivially true")
	}
	a := New(Config{Name: "a", SudoRequired: true}, &fakeBody{}, nil)
	require.NoError(t, a.Setup(context.Background()))
	assert.False(t, a.IsRunnable())
}

func TestRun_RejectsUnrunnableAgentWithoutEnteringRunning(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("test process runs as root; sudo-required predicate is trivially true")
	}
	a := New(Config{Name: "a", SudoRequired: true}, &fakeBody{}, nil)
	require.NoError(t, a.Setup(context.Background()))

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, a.CurrentState())
	assert.NotContains(t, a.History(), StateRunning)
}

func TestRun_HappyPathReachesCompleted(t *testing.T) {
	a := New(Config{Name: "a"}, &fakeBody{}, nil)
	require.NoError(t, a.Setup(context.Background()))
	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, StateCompleted, a.CurrentState())
}

func TestRun_BodyErrorPushesExceptionAndError(t *testing.T) {
	a := New(Config{Name: "a"}, &fakeBody{runErr: errors.New("boom")}, nil)
	require.NoError(t, a.Setup(context.Background()))

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, a.CurrentState())
	assert.Len(t, a.Exceptions(), 1)
}

func TestSkipAndAbort(t *testing.T) {
	a := New(Config{Name: "a"}, &fakeBody{}, nil)
	a.Skip()
	assert.Equal(t, StateSkipped, a.CurrentState())

	b := New(Config{Name: "b"}, &fakeBody{}, nil)
	b.Abort()
	assert.Equal(t, StateAborted, b.CurrentState())
	assert.True(t, b.Scratchpad.IsAborted)
}
