package hooks

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_Register_UnknownEvent(t *testing.T) {
	b := New("on_start", "on_end")

	h, err := b.Register("on_bogus", func(args ...any) error { return nil })
	assert.Nil(t, h)
	var invalid *InvalidEventError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "on_bogus", invalid.Event)
}

// TestBus_Execute_UnknownEvent is the dispatch-side half of spec.md's
// "unknown events raise immediately at registration and dispatch": a
// typo'd or removed event name must fail the same way Register does,
// not silently dispatch to zero hooks.
func TestBus_Execute_UnknownEvent(t *testing.T) {
	b := New("on_start", "on_end")

	err := b.Execute("on_bogus")
	var invalid *InvalidEventError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "on_bogus", invalid.Event)
}

func TestBus_Execute_DispatchesActiveHooksInOrder(t *testing.T) {
	b := New("on_start")

	var order []int
	_, err := b.Register("on_start", func(args ...any) error {
		order = append(order, 1)
		return nil
	})
	require.NoError(t, err)
	_, err = b.Register("on_start", func(args ...any) error {
		order = append(order, 2)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Execute("on_start"))
	assert.Equal(t, []int{1, 2}, order)
}

func TestBus_Execute_SkipsInactiveHook(t *testing.T) {
	b := New("on_start")

	called := false
	_, err := b.Register("on_start", func(args ...any) error {
		called = true
		return nil
	}, Inactive())
	require.NoError(t, err)

	require.NoError(t, b.Execute("on_start"))
	assert.False(t, called)
}

func TestBus_Execute_RaiseErrorStopsDispatch(t *testing.T) {
	b := New("on_start")

	boom := errors.New("boom")
	second := false
	_, err := b.Register("on_start", func(args ...any) error {
		return boom
	}, RaiseError())
	require.NoError(t, err)
	_, err = b.Register("on_start", func(args ...any) error {
		second = true
		return nil
	})
	require.NoError(t, err)

	err = b.Execute("on_start")
	assert.ErrorIs(t, err, boom)
	assert.False(t, second, "hook after a RaiseError hook must not run")
}

func TestBus_Execute_SwallowsErrorWithoutRaiseError(t *testing.T) {
	b := New("on_start")

	_, err := b.Register("on_start", func(args ...any) error {
		return errors.New("swallowed")
	})
	require.NoError(t, err)

	assert.NoError(t, b.Execute("on_start"))
}
