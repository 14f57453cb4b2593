package recorder

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usnistgov/delila/control"
	"github.com/usnistgov/delila/record"
	"github.com/usnistgov/delila/recorder/filefmt"
	"github.com/usnistgov/delila/recorder/sortbuf"
	"github.com/usnistgov/delila/wire"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	dir := t.TempDir()
	r := &Recorder{
		cfg: Config{
			OutputDir:       dir,
			MinBufferEvents: 2,
			MinMargin:       1,
			MarginRatio:     0.5,
			RotationBytes:   1 << 30,
			RotationPeriod:  time.Hour,
		},
		watcher: control.NewWatcher(),
		buf:     sortbuf.New(2, 1, 0.5),
	}
	require.NoError(t, r.watcher.SetState(control.Configured))
	require.NoError(t, r.openSegment())
	return r
}

func dataBatch(sourceID uint32, seq uint64, ts ...float64) []byte {
	events := make([]record.EventRecord, len(ts))
	for i, t := range ts {
		events[i] = record.EventRecord{Channel: 1, TimestampNs: t}
	}
	payload, _ := wire.EncodeData(record.EventBatch{SourceID: sourceID, SequenceNumber: seq, Events: events})
	return payload
}

func TestHandleFrame_IngestsAndFlushesAcrossMargin(t *testing.T) {
	r := newTestRecorder(t)
	require.NoError(t, r.watcher.SetState(control.Armed))
	require.NoError(t, r.watcher.SetState(control.Running))

	done := r.handleFrame(dataBatch(1, 0, 40, 10, 30, 20))
	assert.False(t, done)
	assert.Equal(t, uint64(1), r.batchesSeen, "4 events >= MinBufferEvents triggers a flush")
	assert.Equal(t, 2, r.buf.Len(), "margin=2 retained as carry")
}

func TestHandleFrame_HeartbeatIgnored(t *testing.T) {
	r := newTestRecorder(t)
	hb, err := wire.EncodeHeartbeat(1, 123)
	require.NoError(t, err)

	done := r.handleFrame(hb)
	assert.False(t, done)
	assert.Equal(t, 0, r.buf.Len())
}

func TestHandleFrame_EndOfStream_FinalizesAndTransitions(t *testing.T) {
	r := newTestRecorder(t)
	require.NoError(t, r.watcher.SetState(control.Armed))
	require.NoError(t, r.watcher.SetState(control.Running))

	r.handleFrame(dataBatch(1, 0, 5))

	eos, err := wire.EncodeEndOfStream(1, 1)
	require.NoError(t, err)
	done := r.handleFrame(eos)

	assert.True(t, done)
	assert.Equal(t, control.Configured, r.watcher.Snapshot())
	assert.Equal(t, uint64(1), r.eventsWritten)

	segPath := filepath.Join(r.cfg.OutputDir, "run0000_0000_data.delila")
	rd, _, err := filefmt.Open(segPath)
	require.NoError(t, err)
	defer rd.Close()
	footer, err := readPastBatches(t, rd)
	require.NoError(t, err)
	assert.True(t, footer.WriteComplete)
}

func readPastBatches(t *testing.T, rd *filefmt.Reader) (filefmt.FileFooter, error) {
	t.Helper()
	for {
		peek, err := rd.PeekNext()
		require.NoError(t, err)
		var magic [8]byte
		copy(magic[:], peek)
		if filefmt.IsFooterMagic(magic) {
			return filefmt.ReadFooter(rd)
		}
		if _, err := rd.NextBatch(); err != nil {
			return filefmt.FileFooter{}, err
		}
	}
}

func TestRotate_OpensNewSegmentWithIncrementedSequence(t *testing.T) {
	r := newTestRecorder(t)
	r.cfg.RotationBytes = 1 // force rotation on first write

	require.NoError(t, r.writeFlushed([]record.EventRecord{{Channel: 1, TimestampNs: 1}}))
	assert.Equal(t, 1, r.fileSeq)

	seg1 := filepath.Join(r.cfg.OutputDir, "run0000_0000_data.delila")
	_, header, err := filefmt.Open(seg1)
	require.NoError(t, err)
	assert.Equal(t, 0, header.FileSequence)
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 10000, cfg.MinBufferEvents)
	assert.Equal(t, 50, cfg.MinMargin)
	assert.InDelta(t, 0.05, cfg.MarginRatio, 1e-9)
	assert.Equal(t, uint64(1<<30), cfg.RotationBytes)
	assert.Equal(t, 10*time.Minute, cfg.RotationPeriod)
}
