// Package recorder implements the Sort-Recorder component (spec.md §4.5):
// a single receive loop time-orders merged events with a bounded tail
// margin and persists flushed blocks to rotating, checksummed segment
// files, optionally compressing closed segments for cold storage.
package recorder

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/usnistgov/delila/compress"
	"github.com/usnistgov/delila/control"
	"github.com/usnistgov/delila/errs"
	"github.com/usnistgov/delila/record"
	"github.com/usnistgov/delila/recorder/filefmt"
	"github.com/usnistgov/delila/recorder/sortbuf"
	"github.com/usnistgov/delila/transport"
	"github.com/usnistgov/delila/wire"
)

// Config holds the Recorder's construction-time parameters, sourced from
// config.toml's [network.recorder] table.
type Config struct {
	OutputDir       string
	MinBufferEvents int
	MinMargin       int
	MarginRatio     float64
	RotationBytes   uint64
	RotationPeriod  time.Duration
	// Archive, when non-empty, compresses every closed segment into
	// OutputDir/archive using this algorithm and removes the
	// uncompressed original.
	Archive compress.Algorithm
}

func (c Config) withDefaults() Config {
	if c.MinBufferEvents == 0 {
		c.MinBufferEvents = 10000
	}
	if c.MinMargin == 0 {
		c.MinMargin = 50
	}
	if c.MarginRatio == 0 {
		c.MarginRatio = 0.05
	}
	if c.RotationBytes == 0 {
		c.RotationBytes = 1 << 30
	}
	if c.RotationPeriod == 0 {
		c.RotationPeriod = 10 * time.Minute
	}
	return c
}

// Recorder subscribes to the merger's publish socket, sorts incoming
// events with a tail margin, and writes rotating checksummed segment
// files. It implements control.Commander so a single control.Service
// drives it identically to Source and Merger.
type Recorder struct {
	sub *transport.Subscriber
	cfg Config

	watcher *control.Watcher
	runCfg  record.RunConfig

	buf    *sortbuf.SortBuffer
	writer *filefmt.Writer

	fileSeq      int
	segmentStart time.Time

	stop chan struct{}
	wg   sync.WaitGroup

	eventsWritten uint64
	batchesSeen   uint64
	segmentsClosed uint64
}

// New constructs a Recorder subscribed to subEndpoint.
func New(subEndpoint string, cfg Config) *Recorder {
	cfg = cfg.withDefaults()
	return &Recorder{
		sub:     transport.NewSubscriber(subEndpoint),
		cfg:     cfg,
		watcher: control.NewWatcher(),
	}
}

// Watcher exposes the Recorder's ComponentState for RPC registration.
func (r *Recorder) Watcher() *control.Watcher { return r.watcher }

// Configure stores the run configuration and ensures the output
// directory exists.
func (r *Recorder) Configure(run record.RunConfig) error {
	if r.watcher.Snapshot() != control.Idle {
		return &control.TransitionError{From: r.watcher.Snapshot(), To: control.Configured}
	}
	if err := os.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("recorder: create output dir: %w", err)
	}
	r.runCfg = run
	return nil
}

// Arm is a no-op: the Recorder has no hardware to prepare.
func (r *Recorder) Arm() error {
	if r.watcher.Snapshot() != control.Configured {
		return &control.TransitionError{From: r.watcher.Snapshot(), To: control.Armed}
	}
	return nil
}

// Start opens the first segment file and launches the receive loop.
func (r *Recorder) Start(runNumber int) error {
	state := r.watcher.Snapshot()
	if state != control.Configured && state != control.Armed {
		return &control.TransitionError{From: state, To: control.Running}
	}
	r.runCfg.RunNumber = runNumber
	r.fileSeq = 0
	r.buf = sortbuf.New(r.cfg.MinBufferEvents, r.cfg.MinMargin, r.cfg.MarginRatio)

	if err := r.openSegment(); err != nil {
		return err
	}

	r.stop = make(chan struct{})
	r.wg.Add(1)
	go r.receiveLoop()
	return nil
}

// Stop signals the receive loop to exit and waits for it; on the way out
// the loop drains the sort buffer with no margin and closes the current
// segment cleanly. If the loop already did so on EndOfStream and returned
// the Recorder to Configured, Stop has nothing left to do.
func (r *Recorder) Stop() error {
	state := r.watcher.Snapshot()
	if state == control.Configured && r.stop != nil {
		// EndOfStream already finalized the segment and ended the loop.
		r.wg.Wait()
		return nil
	}
	if state != control.Running && state != control.Armed {
		return &control.TransitionError{From: state, To: control.Configured}
	}
	if state == control.Armed {
		// Armed but never started: no segment is open and no receive
		// loop is running, so there is nothing to drain or close.
		return nil
	}
	close(r.stop)
	r.wg.Wait()
	return nil
}

// Reset is a no-op: there is no hardware handle to release.
func (r *Recorder) Reset() error { return nil }

// Metrics reports the Recorder's write progress.
func (r *Recorder) Metrics() control.Metrics {
	queueSize := 0
	if r.buf != nil {
		queueSize = r.buf.Len()
	}
	return control.Metrics{
		EventsProcessed: atomic.LoadUint64(&r.eventsWritten),
		QueueSize:       queueSize,
	}
}

func (r *Recorder) segmentPath() string {
	name := fmt.Sprintf("run%04d_%04d_data.delila", r.runCfg.RunNumber, r.fileSeq)
	return filepath.Join(r.cfg.OutputDir, name)
}

func (r *Recorder) openSegment() error {
	w, err := filefmt.Create(r.segmentPath(), filefmt.FileHeader{
		RunNumber:    r.runCfg.RunNumber,
		FileSequence: r.fileSeq,
		ExpName:      r.runCfg.ExpName,
		Comment:      r.runCfg.Comment,
		StartTimeNs:  uint64(time.Now().UnixNano()),
	})
	if err != nil {
		return err
	}
	r.writer = w
	r.segmentStart = time.Now()
	return nil
}

// closeSegment closes the current segment with a clean footer and, if
// archiving is configured, compresses it in the background.
func (r *Recorder) closeSegment(complete bool) error {
	path := r.segmentPath()
	if err := r.writer.Close(uint64(time.Now().UnixNano()), complete); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	atomic.AddUint64(&r.segmentsClosed, 1)
	if r.cfg.Archive != "" && r.cfg.Archive != compress.None {
		go r.archiveSegment(path)
	}
	return nil
}

// archiveSegment streams a closed segment through the configured codec
// into OutputDir/archive and removes the uncompressed original. Run in
// the background so archival never stalls the sorter/writer pipeline.
func (r *Recorder) archiveSegment(path string) {
	archiveDir := filepath.Join(r.cfg.OutputDir, "archive")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		log.Error().Err(err).Msg("recorder: create archive dir")
		return
	}
	src, err := os.Open(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("recorder: open segment for archival")
		return
	}
	defer src.Close()

	dstPath := filepath.Join(archiveDir, filepath.Base(path)+"."+string(r.cfg.Archive))
	dst, err := os.Create(dstPath)
	if err != nil {
		log.Error().Err(err).Msg("recorder: create archive file")
		return
	}
	defer dst.Close()

	cw, err := compress.NewWriter(r.cfg.Archive, dst)
	if err != nil {
		log.Error().Err(err).Msg("recorder: build archive writer")
		return
	}
	if _, err := io.Copy(cw, src); err != nil {
		log.Error().Err(err).Msg("recorder: compress segment")
		cw.Close()
		return
	}
	if err := cw.Close(); err != nil {
		log.Error().Err(err).Msg("recorder: finalize archive")
		return
	}
	if err := os.Remove(path); err != nil {
		log.Error().Err(err).Msg("recorder: remove archived original")
	}
}

func (r *Recorder) shouldRotate() bool {
	return r.writer.BytesWritten() >= r.cfg.RotationBytes || time.Since(r.segmentStart) >= r.cfg.RotationPeriod
}

func (r *Recorder) rotate() error {
	if err := r.closeSegment(true); err != nil {
		return err
	}
	r.fileSeq++
	return r.openSegment()
}

func (r *Recorder) writeFlushed(events []record.EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	batch := record.EventBatch{
		SourceID:       0,
		SequenceNumber: atomic.LoadUint64(&r.batchesSeen),
		Timestamp:      uint64(time.Now().UnixNano()),
		Events:         events,
	}
	if err := r.writer.WriteBatch(batch); err != nil {
		return err
	}
	atomic.AddUint64(&r.eventsWritten, uint64(len(events)))
	atomic.AddUint64(&r.batchesSeen, 1)
	if r.shouldRotate() {
		return r.rotate()
	}
	return nil
}

// receiveLoop pulls frames off the Subscriber, ingests Data payloads into
// the sort buffer, flushes and writes what the margin allows, and on
// EndOfStream drains the buffer fully and closes the segment. Per
// spec.md §4.6's stop sequencing, observing EOS autonomously returns the
// Recorder to Configured: it is the one data-plane event explicitly
// specified to drive a state transition outside the command channel.
func (r *Recorder) receiveLoop() {
	defer r.wg.Done()
	for {
		select {
		case frame, ok := <-r.sub.Recv():
			if !ok {
				return
			}
			if len(frame) == 0 {
				continue
			}
			if r.handleFrame(frame[0]) {
				return
			}
		case <-r.stop:
			r.finalizeSegment()
			return
		}
	}
}

// handleFrame processes one wire frame and reports whether EndOfStream
// was observed (in which case the caller returns without waiting on
// r.stop, since the run is already over).
func (r *Recorder) handleFrame(payload []byte) bool {
	hdr, err := wire.PeekHeader(payload)
	if err != nil {
		log.Warn().Err(err).Msg("recorder: malformed frame header")
		return false
	}
	switch hdr.Kind {
	case wire.KindHeartbeat:
		return false
	case wire.KindEndOfStream:
		r.finalizeSegment()
		if err := r.watcher.SetState(control.Configured); err != nil {
			log.Error().Err(err).Msg("recorder: autonomous transition to Configured after EOS")
		}
		return true
	}

	batch, err := wire.DecodeData(payload)
	if err != nil {
		log.Warn().Err(err).Msg("recorder: decode data frame")
		return false
	}
	r.buf.Ingest(batch.Events)
	if flushed := r.buf.Flush(); flushed != nil {
		if err := r.writeFlushed(flushed); err != nil {
			log.Error().Err(err).Msg("recorder: write flushed block")
			r.watcher.ForceError()
			return true
		}
	}
	return false
}

func (r *Recorder) finalizeSegment() {
	drained := r.buf.Drain()
	if err := r.writeFlushed(drained); err != nil {
		log.Error().Err(err).Msg("recorder: write final drain")
	}
	if err := r.closeSegment(true); err != nil {
		log.Error().Err(err).Msg("recorder: close final segment")
	}
}

var _ control.Commander = (*Recorder)(nil)
