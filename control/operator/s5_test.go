package operator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usnistgov/delila/control"
	"github.com/usnistgov/delila/record"
)

// fakeCommander is a minimal control.Commander whose Start blocks for
// startDelay before returning, simulating a component whose hardware
// initialization takes real wall-clock time (spec.md S5).
type fakeCommander struct {
	name       string
	startDelay time.Duration

	mu        sync.Mutex
	startedAt time.Time
}

func (f *fakeCommander) Configure(record.RunConfig) error { return nil }
func (f *fakeCommander) Arm() error                       { return nil }
func (f *fakeCommander) Stop() error                      { return nil }
func (f *fakeCommander) Reset() error                     { return nil }
func (f *fakeCommander) Metrics() control.Metrics         { return control.Metrics{} }

func (f *fakeCommander) Start(runNumber int) error {
	time.Sleep(f.startDelay)
	f.mu.Lock()
	f.startedAt = time.Now()
	f.mu.Unlock()
	return nil
}

func (f *fakeCommander) observedStart() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startedAt
}

func serveFakeComponent(t *testing.T, rpcName, addr string, fc *fakeCommander) {
	t.Helper()
	watcher := control.NewWatcher()
	require.NoError(t, watcher.SetState(control.Configured))
	svc := control.NewService(rpcName, watcher, fc)
	go func() {
		_ = svc.Serve(addr)
	}()
	// Give the listener time to bind before the test dials it.
	time.Sleep(20 * time.Millisecond)
}

// TestOperator_Start_WaitsForDownstreamBeforeUpstream is spec.md S5: with
// sources at pipeline_order=1, merger at 2, recorder at 3, a system Start
// must reach the recorder first; if the recorder's Start is artificially
// delayed, no upstream component's Start may be issued before that delay
// elapses.
func TestOperator_Start_WaitsForDownstreamBeforeUpstream(t *testing.T) {
	recorder := &fakeCommander{name: "Recorder", startDelay: 200 * time.Millisecond}
	merger := &fakeCommander{name: "Merger"}
	source := &fakeCommander{name: "Source"}

	serveFakeComponent(t, "Recorder", "127.0.0.1:58731", recorder)
	serveFakeComponent(t, "Merger", "127.0.0.1:58732", merger)
	serveFakeComponent(t, "Source", "127.0.0.1:58733", source)

	components := []Component{
		{Label: "Source-1", Name: "Source", Addr: "127.0.0.1:58733", PipelineOrder: 1},
		{Label: "Merger", Name: "Merger", Addr: "127.0.0.1:58732", PipelineOrder: 2},
		{Label: "Recorder", Name: "Recorder", Addr: "127.0.0.1:58731", PipelineOrder: 3},
	}

	op, err := New(components)
	require.NoError(t, err)
	defer op.Close()

	start := time.Now()
	require.NoError(t, op.Start(1, 5*time.Second))

	assert.True(t, recorder.observedStart().Before(merger.observedStart()),
		"recorder (highest pipeline_order) must start before merger")
	assert.True(t, merger.observedStart().Before(source.observedStart()),
		"merger must start before source (lowest pipeline_order)")
	assert.True(t, source.observedStart().Sub(start) >= recorder.startDelay,
		"source must not start before the recorder's artificial delay elapses")
}
