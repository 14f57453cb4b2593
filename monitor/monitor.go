// Package monitor implements the Monitor component (spec.md §4's C6):
// it subscribes to the merged event stream, accumulates a per-channel
// energy histogram, and retains the most recent waveform seen on each
// channel for an external UI to poll. Rendering itself is explicitly
// out of scope (spec.md §1 non-goals); this package only maintains the
// data those UIs would read.
package monitor

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/usnistgov/delila/control"
	"github.com/usnistgov/delila/record"
	"github.com/usnistgov/delila/transport"
	"github.com/usnistgov/delila/wire"
)

// Histogram is a fixed-width energy histogram for one channel.
type Histogram struct {
	BinWidth uint16
	Counts   []uint64 // Counts[i] covers [i*BinWidth, (i+1)*BinWidth)
}

func newHistogram(binWidth uint16, numBins int) *Histogram {
	return &Histogram{BinWidth: binWidth, Counts: make([]uint64, numBins)}
}

func (h *Histogram) add(energy uint16) {
	bin := int(energy) / int(h.BinWidth)
	if bin >= len(h.Counts) {
		bin = len(h.Counts) - 1
	}
	h.Counts[bin]++
}

// ChannelState is one channel's accumulated monitoring data.
type ChannelState struct {
	Histogram     *Histogram
	LatestWaveform *record.Waveform
	EventCount    uint64
}

// Monitor subscribes to subEndpoint and keeps per-(module,channel)
// ChannelState in memory, served over an HTTP JSON endpoint on
// httpAddr.
type Monitor struct {
	sub      *transport.Subscriber
	httpAddr string
	binWidth uint16
	numBins  int

	mu       sync.RWMutex
	channels map[channelKey]*ChannelState

	watcher *control.Watcher

	srv  *http.Server
	stop chan struct{}
	wg   sync.WaitGroup
}

type channelKey struct {
	ModuleID uint8
	Channel  uint8
}

// New constructs a Monitor. binWidth/numBins size every channel's energy
// histogram (energy is a 16-bit field, so numBins*binWidth should cover
// 0..65535 to never need re-binning).
func New(subEndpoint, httpAddr string, binWidth uint16, numBins int) *Monitor {
	return &Monitor{
		sub:      transport.NewSubscriber(subEndpoint),
		httpAddr: httpAddr,
		binWidth: binWidth,
		numBins:  numBins,
		channels: make(map[channelKey]*ChannelState),
		watcher:  control.NewWatcher(),
	}
}

// Watcher exposes the Monitor's ComponentState for RPC registration.
func (m *Monitor) Watcher() *control.Watcher { return m.watcher }

// Configure is a no-op: the Monitor has no run-scoped state beyond what
// Start/Stop already manage.
func (m *Monitor) Configure(run record.RunConfig) error {
	if m.watcher.Snapshot() != control.Idle {
		return &control.TransitionError{From: m.watcher.Snapshot(), To: control.Configured}
	}
	return nil
}

// Arm is a no-op.
func (m *Monitor) Arm() error {
	if m.watcher.Snapshot() != control.Configured {
		return &control.TransitionError{From: m.watcher.Snapshot(), To: control.Armed}
	}
	return nil
}

// Start resets accumulated state for the new run and launches the
// receive loop and HTTP server.
func (m *Monitor) Start(runNumber int) error {
	state := m.watcher.Snapshot()
	if state != control.Configured && state != control.Armed {
		return &control.TransitionError{From: state, To: control.Running}
	}

	m.mu.Lock()
	m.channels = make(map[channelKey]*ChannelState)
	m.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/channels", m.serveChannels)
	m.srv = &http.Server{Addr: m.httpAddr, Handler: mux}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("monitor: http server")
		}
	}()

	m.stop = make(chan struct{})
	m.wg.Add(1)
	go m.receiveLoop()
	return nil
}

// Stop shuts down the HTTP server and receive loop.
func (m *Monitor) Stop() error {
	state := m.watcher.Snapshot()
	if state != control.Running && state != control.Armed {
		return &control.TransitionError{From: state, To: control.Configured}
	}
	if state == control.Armed {
		// Armed but never started: no HTTP server or receive loop is
		// running, so there is nothing to close or drain.
		return nil
	}
	close(m.stop)
	if m.srv != nil {
		_ = m.srv.Close()
	}
	m.wg.Wait()
	return nil
}

// Reset is a no-op.
func (m *Monitor) Reset() error { return nil }

// Metrics reports total events observed across all channels.
func (m *Monitor) Metrics() control.Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total uint64
	for _, cs := range m.channels {
		total += cs.EventCount
	}
	return control.Metrics{EventsProcessed: total}
}

func (m *Monitor) receiveLoop() {
	defer m.wg.Done()
	for {
		select {
		case frame, ok := <-m.sub.Recv():
			if !ok {
				return
			}
			if len(frame) == 0 {
				continue
			}
			m.handleFrame(frame[0])
		case <-m.stop:
			return
		}
	}
}

func (m *Monitor) handleFrame(payload []byte) {
	hdr, err := wire.PeekHeader(payload)
	if err != nil || hdr.Kind != wire.KindData {
		return
	}
	batch, err := wire.DecodeData(payload)
	if err != nil {
		log.Warn().Err(err).Msg("monitor: decode data frame")
		return
	}
	for _, e := range batch.Events {
		m.ingest(e)
	}
}

func (m *Monitor) ingest(e record.EventRecord) {
	key := channelKey{ModuleID: e.ModuleID, Channel: e.Channel}

	m.mu.Lock()
	cs, ok := m.channels[key]
	if !ok {
		cs = &ChannelState{Histogram: newHistogram(m.binWidth, m.numBins)}
		m.channels[key] = cs
	}
	cs.Histogram.add(e.Energy)
	cs.EventCount++
	if e.Waveform != nil {
		cs.LatestWaveform = e.Waveform
	}
	m.mu.Unlock()
}

// Snapshot returns a point-in-time copy of one channel's state, for
// tests and for the HTTP handler.
func (m *Monitor) Snapshot(moduleID, channel uint8) (ChannelState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cs, ok := m.channels[channelKey{ModuleID: moduleID, Channel: channel}]
	if !ok {
		return ChannelState{}, false
	}
	return *cs, true
}

func (m *Monitor) serveChannels(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	out := make(map[string]ChannelState, len(m.channels))
	for k, v := range m.channels {
		out[channelLabel(k)] = *v
	}
	m.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		log.Error().Err(err).Msg("monitor: encode channel snapshot")
	}
}

func channelLabel(k channelKey) string {
	return strconv.Itoa(int(k.ModuleID)) + ":" + strconv.Itoa(int(k.Channel))
}

var _ control.Commander = (*Monitor)(nil)
