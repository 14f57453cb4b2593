package source

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/usnistgov/delila/control"
	"github.com/usnistgov/delila/decode"
	"github.com/usnistgov/delila/errs"
	"github.com/usnistgov/delila/internal/options"
	"github.com/usnistgov/delila/record"
	"github.com/usnistgov/delila/transport"
	"github.com/usnistgov/delila/wire"
)

type armPolicyProvider interface {
	ArmPolicy() decode.ArmPolicy
}

// Source owns one digitizer (real or emulated), a bounded RawBuffer queue
// between its read loop and decode loop, and a PUB socket it publishes
// EventBatches and Heartbeats on (spec.md §4.3).
type Source struct {
	id        uint32
	digitizer Digitizer
	decoder   decode.Decoder
	pub       *transport.Publisher
	cfg       *config

	watcher *control.Watcher
	runCfg  record.RunConfig

	queue    chan decode.RawBuffer
	stopRead chan struct{}
	wg       sync.WaitGroup

	seq uint64

	batchesSent   uint64
	eventsSent    uint64
	bytesSent     uint64
	readErrors    uint64
	queueHighWater int64
}

// New constructs a Source. id is the source_id stamped on every
// EventBatch; pubEndpoint is the local PUB bind address.
func New(id uint32, digitizer Digitizer, decoder decode.Decoder, pubEndpoint string, opts ...Option) *Source {
	cfg := defaultConfig()
	_ = options.Apply(cfg, opts...)
	return &Source{
		id:        id,
		digitizer: digitizer,
		decoder:   decoder,
		pub:       transport.NewPublisher(pubEndpoint),
		cfg:       cfg,
		watcher:   control.NewWatcher(),
	}
}

// Watcher exposes the Source's ComponentState for RPC registration.
func (s *Source) Watcher() *control.Watcher { return s.watcher }

// Configure opens the digitizer handle (spec.md §6: "open(url) ->
// handle") and stores the run configuration.
func (s *Source) Configure(run record.RunConfig) error {
	if s.watcher.Snapshot() != control.Idle {
		return &control.TransitionError{From: s.watcher.Snapshot(), To: control.Configured}
	}
	if err := s.digitizer.Open(s.cfg.deviceURL); err != nil {
		return fmt.Errorf("source: open digitizer: %w", err)
	}
	s.runCfg = run
	return nil
}

// Arm opens the device endpoint and, unless the decoder's ArmPolicy
// defers arming to Start (PSD1), issues the hardware arm command.
func (s *Source) Arm() error {
	if s.watcher.Snapshot() != control.Configured {
		return &control.TransitionError{From: s.watcher.Snapshot(), To: control.Armed}
	}
	if err := s.digitizer.ConfigureEndpoint(); err != nil {
		return fmt.Errorf("source: configure endpoint: %w", err)
	}
	if s.armPolicy() == decode.ArmPolicyHardwareArm {
		if err := s.digitizer.SendCommand("arm"); err != nil {
			return fmt.Errorf("source: arm: %w", err)
		}
	}
	return nil
}

func (s *Source) armPolicy() decode.ArmPolicy {
	if p, ok := s.decoder.(armPolicyProvider); ok {
		return p.ArmPolicy()
	}
	return decode.ArmPolicyHardwareArm
}

// Start resets the sequence number to zero, issues the hardware start
// command (which also arms for PSD1's no-op-arm policy), and launches
// the read and decode loops.
func (s *Source) Start(runNumber int) error {
	state := s.watcher.Snapshot()
	if state != control.Configured && state != control.Armed {
		return &control.TransitionError{From: state, To: control.Running}
	}
	s.runCfg.RunNumber = runNumber

	cmd := "start"
	if s.armPolicy() == decode.ArmPolicyArmIsNoop {
		cmd = "arm_and_start"
	}
	if err := s.digitizer.SendCommand(cmd); err != nil {
		return fmt.Errorf("source: start: %w", err)
	}

	atomic.StoreUint64(&s.seq, 0)
	s.queue = make(chan decode.RawBuffer, s.cfg.queueSize)
	s.stopRead = make(chan struct{})

	s.wg.Add(2)
	go s.readLoop()
	go s.decodeLoop()
	return nil
}

// Stop signals the read loop to exit, waits for both loops to drain, and
// publishes a final EndOfStream carrying the number of batches published
// since Start (one past the last sequence number assigned).
func (s *Source) Stop() error {
	state := s.watcher.Snapshot()
	if state != control.Running && state != control.Armed {
		return &control.TransitionError{From: state, To: control.Configured}
	}
	if state == control.Armed {
		// Armed but never started: no read/decode loop is running and no
		// batch was ever published, so there is nothing to drain or
		// announce the end of.
		return nil
	}
	close(s.stopRead)
	s.wg.Wait()

	final := atomic.LoadUint64(&s.seq)
	payload, err := wire.EncodeEndOfStream(s.id, final)
	if err != nil {
		return fmt.Errorf("source: encode end of stream: %w", err)
	}
	s.pub.Send(payload)
	return nil
}

// Reset closes the digitizer handle and returns to Idle.
func (s *Source) Reset() error {
	if err := s.digitizer.Close(); err != nil {
		log.Warn().Err(err).Msg("source: close digitizer during reset")
	}
	return nil
}

// Metrics reports the data this Source has published so far.
func (s *Source) Metrics() control.Metrics {
	return control.Metrics{
		EventsProcessed:  atomic.LoadUint64(&s.eventsSent),
		BytesTransferred: atomic.LoadUint64(&s.bytesSent),
		QueueSize:        len(s.queue),
		QueueMax:         cap(s.queue),
	}
}

// readLoop pulls RawBuffers from the digitizer and pushes them onto the
// bounded decode queue, blocking on a full queue by design (spec.md §5:
// "this applies backpressure up to the hardware and is acceptable because
// loss there would be silent").
func (s *Source) readLoop() {
	defer s.wg.Done()
	defer close(s.queue)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	b.MaxInterval = s.cfg.backoffMax

	for {
		select {
		case <-s.stopRead:
			return
		default:
		}

		result, err := s.digitizer.ReadData(s.cfg.readTimeout)
		if err != nil {
			if errors.Is(err, errs.ErrDeviceStop) {
				return
			}
			if errors.Is(err, errs.ErrDeviceHardware) {
				s.watcher.ForceError()
				return
			}
			atomic.AddUint64(&s.readErrors, 1)
			d := b.NextBackOff()
			if d == backoff.Stop {
				s.watcher.ForceError()
				return
			}
			select {
			case <-time.After(d):
			case <-s.stopRead:
				return
			}
			continue
		}
		b.Reset()

		switch result.Outcome {
		case OutcomeStop:
			return
		case OutcomeTimeout:
			continue
		}

		select {
		case s.queue <- result.Buf:
			if n := int64(len(s.queue)); n > atomic.LoadInt64(&s.queueHighWater) {
				atomic.StoreInt64(&s.queueHighWater, n)
			}
		case <-s.stopRead:
			return
		}
	}
}

// decodeLoop dequeues RawBuffers, decodes them, and publishes the
// resulting batch. When no buffer has arrived for heartbeatInterval it
// publishes a Heartbeat in its place so downstream consumers can
// distinguish "idle" from "dead".
func (s *Source) decodeLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case buf, ok := <-s.queue:
			if !ok {
				return
			}
			ticker.Reset(s.cfg.heartbeatInterval)
			s.publishBatch(buf)
		case <-ticker.C:
			payload, err := wire.EncodeHeartbeat(s.id, uint64(time.Now().UnixNano()))
			if err != nil {
				log.Error().Err(err).Msg("source: encode heartbeat")
				continue
			}
			s.pub.Send(payload)
		}
	}
}

func (s *Source) publishBatch(buf decode.RawBuffer) {
	events, err := s.decoder.Decode(buf)
	if err != nil {
		log.Warn().Err(err).Uint32("source_id", s.id).Msg("source: decode error")
	}
	if len(events) == 0 {
		return
	}

	batch := record.EventBatch{
		SourceID:       s.id,
		SequenceNumber: atomic.AddUint64(&s.seq, 1) - 1,
		Timestamp:      uint64(time.Now().UnixNano()),
		Events:         events,
	}
	payload, err := wire.EncodeData(batch)
	if err != nil {
		log.Error().Err(err).Msg("source: encode data batch")
		return
	}
	s.pub.Send(payload)

	atomic.AddUint64(&s.batchesSent, 1)
	atomic.AddUint64(&s.eventsSent, uint64(len(events)))
	atomic.AddUint64(&s.bytesSent, uint64(len(payload)))
}

var _ control.Commander = (*Source)(nil)
