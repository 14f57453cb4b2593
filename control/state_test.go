package control

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usnistgov/delila/errs"
)

func TestCanTransition_Table(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{Idle, Configured, true},
		{Idle, Armed, false},
		{Idle, Running, false},
		{Configured, Idle, true},
		{Configured, Armed, true},
		{Configured, Running, true},
		{Armed, Idle, true},
		{Armed, Running, true},
		{Armed, Configured, true},
		{Running, Configured, true},
		{Running, Idle, false},
		{Running, Armed, false},
		{Error, Idle, true},
		{Error, Configured, false},
		{Idle, Error, true},
		{Running, Error, true},
		{Error, Error, false},
	}
	for _, c := range cases {
		got := CanTransition(c.from, c.to)
		assert.Equalf(t, c.want, got, "%s -> %s", c.from, c.to)
	}
}

func TestWatcher_SetState_LegalTransition(t *testing.T) {
	w := NewWatcher()
	require.Equal(t, Idle, w.Snapshot())

	require.NoError(t, w.SetState(Configured))
	assert.Equal(t, Configured, w.Snapshot())
}

func TestWatcher_SetState_IllegalTransition(t *testing.T) {
	w := NewWatcher()
	err := w.SetState(Armed)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrStateTransition)

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, Idle, te.From)
	assert.Equal(t, Armed, te.To)

	assert.Equal(t, Idle, w.Snapshot(), "state must not change on rejected transition")
}

func TestWatcher_ForceError_FromAnyState(t *testing.T) {
	w := NewWatcher()
	require.NoError(t, w.SetState(Configured))
	require.NoError(t, w.SetState(Armed))
	require.NoError(t, w.SetState(Running))

	w.ForceError()
	assert.Equal(t, Error, w.Snapshot())
}

func TestWatcher_SetState_SameStateIsNoOp(t *testing.T) {
	w := NewWatcher()
	require.NoError(t, w.SetState(Idle), "a second Reset-equivalent call must not be rejected")
	assert.Equal(t, Idle, w.Snapshot())

	require.NoError(t, w.SetState(Configured))
	require.NoError(t, w.SetState(Configured), "re-requesting the current state is a no-op, not an error")
	assert.Equal(t, Configured, w.Snapshot())
}

func TestWatcher_Subscribe_ReceivesChange(t *testing.T) {
	w := NewWatcher()
	ch := w.Subscribe()

	require.NoError(t, w.SetState(Configured))

	select {
	case s := <-ch:
		assert.Equal(t, Configured, s)
	default:
		t.Fatal("expected a state notification")
	}
}
