// Package merger implements the zero-copy forwarder (spec.md §4.4): it
// subscribes to every source's PUB socket, peeks each frame's wire
// header without deserializing the event payload, tracks per-source
// counters, and republishes everything but Heartbeats verbatim on a
// single downstream PUB socket.
package merger

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/usnistgov/delila/control"
	"github.com/usnistgov/delila/record"
	"github.com/usnistgov/delila/transport"
	"github.com/usnistgov/delila/wire"
)

// SourceStats is the per-source bookkeeping the merger keeps without
// touching the event payload: total frames, dropped frames (detected by
// a sequence_number gap), bytes received (heartbeats included), and the
// last sequence/wall timestamp seen.
type SourceStats struct {
	Frames      uint64
	Dropped     uint64
	Bytes       uint64
	LastSeq     uint64
	LastSeenNs  uint64
	haveLastSeq bool
	eosSeen     bool
}

// Snapshot is an immutable copy of SourceStats safe to hand to a status
// response.
type Snapshot struct {
	Frames  uint64
	Dropped uint64
	Bytes   uint64
	LastSeq uint64
}

type perSource struct {
	mu    sync.Mutex
	stats SourceStats
}

// Merger owns one Subscriber per upstream source and a single downstream
// Publisher. forward is a buffered channel of capacity 4096 guarded by
// dropThreshold: past that depth (or when the channel is full), frames are
// dropped rather than blocking on a slow downstream consumer (spec.md
// §4.4, §5).
type Merger struct {
	sources   map[uint32]*transport.Subscriber
	pub       *transport.Publisher
	perSource map[uint32]*perSource
	mu        sync.RWMutex

	forward       chan []byte
	dropThreshold int
	dropped       uint64
	forwarded     uint64

	watcher *control.Watcher

	eosMu       sync.Mutex
	expectedEOS map[uint32]bool
	eosForwarded bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Merger that will publish merged frames on pubEndpoint.
// sourceEndpoints maps each upstream source_id to the SUB endpoint it
// publishes on. dropThreshold bounds the forward queue's depth.
func New(sourceEndpoints map[uint32]string, pubEndpoint string, dropThreshold int) *Merger {
	sources := make(map[uint32]*transport.Subscriber, len(sourceEndpoints))
	perSrc := make(map[uint32]*perSource, len(sourceEndpoints))
	expected := make(map[uint32]bool, len(sourceEndpoints))
	for id, ep := range sourceEndpoints {
		sources[id] = transport.NewSubscriber(ep)
		perSrc[id] = &perSource{}
		expected[id] = true
	}
	return &Merger{
		sources:       sources,
		pub:           transport.NewPublisher(pubEndpoint),
		perSource:     perSrc,
		forward:       make(chan []byte, 4096),
		dropThreshold: dropThreshold,
		watcher:       control.NewWatcher(),
		expectedEOS:   expected,
	}
}

// Watcher exposes the Merger's ComponentState for RPC registration.
func (m *Merger) Watcher() *control.Watcher { return m.watcher }

// Run starts one receiver goroutine per source and a single sender
// goroutine draining the forward queue. It returns immediately; callers
// stop the merger with Stop.
func (m *Merger) Run() {
	m.stop = make(chan struct{})
	for id, sub := range m.sources {
		m.wg.Add(1)
		go m.receiveLoop(id, sub)
	}
	m.wg.Add(1)
	go m.sendLoop()
}

// Stop signals every loop to exit and closes every subscriber, then waits
// for the sender to drain what remains in the forward queue.
func (m *Merger) Stop() error {
	close(m.stop)
	for _, sub := range m.sources {
		sub.Close()
	}
	m.wg.Wait()
	m.pub.Close()
	return nil
}

func (m *Merger) receiveLoop(sourceID uint32, sub *transport.Subscriber) {
	defer m.wg.Done()
	for {
		select {
		case frame, ok := <-sub.Recv():
			if !ok {
				return
			}
			if len(frame) == 0 {
				continue
			}
			m.handleFrame(sourceID, frame[0])
		case <-m.stop:
			return
		}
	}
}

func (m *Merger) handleFrame(sourceID uint32, payload []byte) {
	hdr, err := wire.PeekHeader(payload)
	if err != nil {
		log.Warn().Err(err).Uint32("source_id", sourceID).Msg("merger: malformed frame header")
		return
	}

	ps := m.perSource[sourceID]
	ps.mu.Lock()
	ps.stats.Frames++
	ps.stats.Bytes += uint64(len(payload))
	ps.stats.LastSeenNs = hdr.Timestamp
	if hdr.Kind == wire.KindData {
		switch {
		case !ps.stats.haveLastSeq || hdr.SequenceNumber == ps.stats.LastSeq+1:
			// contiguous, or the first Data frame seen for this source
		case hdr.SequenceNumber > ps.stats.LastSeq:
			ps.stats.Dropped += hdr.SequenceNumber - (ps.stats.LastSeq + 1)
		default:
			// sequence_number decreased without an intervening Start
			// (source restarted its counter); report one gap rather
			// than an absurd count from the unsigned underflow.
			ps.stats.Dropped++
		}
		ps.stats.LastSeq = hdr.SequenceNumber
		ps.stats.haveLastSeq = true
	}
	ps.mu.Unlock()

	switch hdr.Kind {
	case wire.KindHeartbeat:
		return // heartbeats are not forwarded downstream
	case wire.KindEndOfStream:
		if !m.recordEOS(sourceID) {
			return // held back until every source has sent EndOfStream
		}
	}

	m.tryForward(payload)
}

// tryForward enqueues payload with a non-blocking send. Past
// dropThreshold, the frame is dropped rather than risking unbounded
// growth for a slow downstream consumer.
func (m *Merger) tryForward(payload []byte) {
	if len(m.forward) >= m.dropThreshold {
		atomic.AddUint64(&m.dropped, 1)
		return
	}
	select {
	case m.forward <- payload:
	default:
		atomic.AddUint64(&m.dropped, 1)
	}
}

func (m *Merger) sendLoop() {
	defer m.wg.Done()
	for {
		select {
		case payload, ok := <-m.forward:
			if !ok {
				return
			}
			m.pub.Send(payload)
			atomic.AddUint64(&m.forwarded, 1)
		case <-m.stop:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case payload := <-m.forward:
					m.pub.Send(payload)
					atomic.AddUint64(&m.forwarded, 1)
				default:
					return
				}
			}
		}
	}
}

// recordEOS tracks per-source EndOfStream arrival and reports true exactly
// once, for the EndOfStream that completes the set, so handleFrame forwards
// a single EndOfStream downstream only once every subscribed source has
// reported one (spec.md §4.4: "sources may EOS in any order").
func (m *Merger) recordEOS(sourceID uint32) bool {
	m.eosMu.Lock()
	defer m.eosMu.Unlock()
	if m.eosForwarded {
		return false
	}
	delete(m.expectedEOS, sourceID)
	if len(m.expectedEOS) == 0 {
		m.eosForwarded = true
		return true
	}
	return false
}

// AllSourcesEOS reports whether every subscribed source has sent
// EndOfStream.
func (m *Merger) AllSourcesEOS() bool {
	m.eosMu.Lock()
	defer m.eosMu.Unlock()
	return m.eosForwarded
}

// Stats returns an immutable snapshot of one source's counters.
func (m *Merger) Stats(sourceID uint32) (Snapshot, bool) {
	ps, ok := m.perSource[sourceID]
	if !ok {
		return Snapshot{}, false
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return Snapshot{
		Frames:  ps.stats.Frames,
		Dropped: ps.stats.Dropped,
		Bytes:   ps.stats.Bytes,
		LastSeq: ps.stats.LastSeq,
	}, true
}

// Metrics sums the per-source frame and byte counters and adds the
// forward queue's current depth and capacity, in the control-plane
// Metrics shape.
func (m *Merger) Metrics() control.Metrics {
	var events, bytes uint64
	for _, ps := range m.perSource {
		ps.mu.Lock()
		events += ps.stats.Frames
		bytes += ps.stats.Bytes
		ps.mu.Unlock()
	}
	return control.Metrics{
		EventsProcessed:  events,
		BytesTransferred: bytes,
		QueueSize:        len(m.forward),
		QueueMax:         cap(m.forward),
	}
}

// Configure, Arm, and Reset are no-ops for the Merger: it has no run
// configuration and no hardware to arm, but it still implements
// control.Commander so a single Service/Operator pair can drive every
// component uniformly.
func (m *Merger) Configure(run record.RunConfig) error { return nil }
func (m *Merger) Arm() error                           { return nil }
func (m *Merger) Reset() error                         { return nil }

// Start launches the merger's receive/send loops. The runNumber argument
// is unused: the merger forwards whatever sources publish regardless of
// run identity.
func (m *Merger) Start(runNumber int) error {
	m.Run()
	return nil
}

var _ control.Commander = (*Merger)(nil)
