package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usnistgov/delila/record"
)

type noopCommander struct{}

func (noopCommander) Configure(record.RunConfig) error { return nil }
func (noopCommander) Arm() error                       { return nil }
func (noopCommander) Start(int) error                  { return nil }
func (noopCommander) Stop() error                      { return nil }
func (noopCommander) Reset() error                     { return nil }
func (noopCommander) Metrics() Metrics                 { return Metrics{} }

func serveNoopComponent(t *testing.T, addr string) *Watcher {
	t.Helper()
	w := NewWatcher()
	svc := NewService("Test", w, noopCommander{})
	go func() { _ = svc.Serve(addr) }()
	time.Sleep(20 * time.Millisecond)
	return w
}

// TestClient_GetStatus_IsIdempotent is spec.md §8's round-trip law: two
// successive GetStatus calls with no intervening command return the same
// state.
func TestClient_GetStatus_IsIdempotent(t *testing.T) {
	serveNoopComponent(t, "127.0.0.1:58741")
	cl, err := Dial("Test", "127.0.0.1:58741")
	require.NoError(t, err)
	defer cl.Close()

	first, err := cl.GetStatus(1)
	require.NoError(t, err)
	second, err := cl.GetStatus(2)
	require.NoError(t, err)

	assert.Equal(t, first.CurrentState, second.CurrentState)
	assert.Equal(t, Idle.String(), first.CurrentState)
}

// TestClient_Reset_IsNoOpWhenAlreadyIdle is spec.md §8's round-trip law: a
// Reset from any state leaves the component in Idle; a second Reset is a
// no-op, not a rejected transition.
func TestClient_Reset_IsNoOpWhenAlreadyIdle(t *testing.T) {
	serveNoopComponent(t, "127.0.0.1:58742")
	cl, err := Dial("Test", "127.0.0.1:58742")
	require.NoError(t, err)
	defer cl.Close()

	resp, err := cl.Configure(1, record.RunConfig{RunNumber: 1})
	require.NoError(t, err)
	require.True(t, resp.Success)

	resp, err = cl.Reset(2)
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, Idle.String(), resp.CurrentState)

	resp, err = cl.Reset(3)
	require.NoError(t, err)
	assert.True(t, resp.Success, "a second Reset from Idle must succeed as a no-op")
	assert.Equal(t, Idle.String(), resp.CurrentState)
}
