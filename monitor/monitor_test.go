package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usnistgov/delila/control"
	"github.com/usnistgov/delila/record"
)

func newTestMonitor() *Monitor {
	return &Monitor{
		binWidth: 100,
		numBins:  656, // covers 0..65599
		channels: make(map[channelKey]*ChannelState),
		watcher:  control.NewWatcher(),
	}
}

func TestIngest_AccumulatesHistogramAndCount(t *testing.T) {
	m := newTestMonitor()
	m.ingest(record.EventRecord{ModuleID: 1, Channel: 2, Energy: 150})
	m.ingest(record.EventRecord{ModuleID: 1, Channel: 2, Energy: 250})
	m.ingest(record.EventRecord{ModuleID: 1, Channel: 2, Energy: 151})

	cs, ok := m.Snapshot(1, 2)
	require.True(t, ok)
	assert.Equal(t, uint64(3), cs.EventCount)
	assert.Equal(t, uint64(2), cs.Histogram.Counts[1]) // bin 1 = [100,200)
	assert.Equal(t, uint64(1), cs.Histogram.Counts[2]) // bin 2 = [200,300)
}

func TestIngest_SeparatesChannels(t *testing.T) {
	m := newTestMonitor()
	m.ingest(record.EventRecord{ModuleID: 1, Channel: 1, Energy: 10})
	m.ingest(record.EventRecord{ModuleID: 1, Channel: 2, Energy: 10})

	cs1, ok := m.Snapshot(1, 1)
	require.True(t, ok)
	assert.Equal(t, uint64(1), cs1.EventCount)

	cs2, ok := m.Snapshot(1, 2)
	require.True(t, ok)
	assert.Equal(t, uint64(1), cs2.EventCount)
}

func TestIngest_RetainsLatestWaveformOnly(t *testing.T) {
	m := newTestMonitor()
	m.ingest(record.EventRecord{ModuleID: 0, Channel: 0, Energy: 1, Waveform: &record.Waveform{AnalogProbe1: []int16{1, 2}}})
	m.ingest(record.EventRecord{ModuleID: 0, Channel: 0, Energy: 1}) // no waveform: must not overwrite with nil
	m.ingest(record.EventRecord{ModuleID: 0, Channel: 0, Energy: 1, Waveform: &record.Waveform{AnalogProbe1: []int16{9}}})

	cs, ok := m.Snapshot(0, 0)
	require.True(t, ok)
	require.NotNil(t, cs.LatestWaveform)
	assert.Equal(t, []int16{9}, cs.LatestWaveform.AnalogProbe1)
}

func TestHistogram_ClampsToLastBin(t *testing.T) {
	h := newHistogram(100, 4) // covers 0..399, anything >=400 clamps to bin 3
	h.add(65535)
	assert.Equal(t, uint64(1), h.Counts[3])
}

func TestSnapshot_UnknownChannel(t *testing.T) {
	m := newTestMonitor()
	_, ok := m.Snapshot(9, 9)
	assert.False(t, ok)
}
