package source

import (
	"math/rand"
	"time"

	"github.com/usnistgov/delila/decode"
	"github.com/usnistgov/delila/errs"
)

// EmulatorMode selects what an Emulator's ReadData synthesises.
type EmulatorMode int

const (
	// ModeRawBytes produces pre-generated raw wire bytes, exercising the
	// real decoder path end to end.
	ModeRawBytes EmulatorMode = iota
	// ModeDirectEvents synthesises BatchSize single-word PSD2 events per
	// buffer from the seeded PRNG, so end-to-end tests get a reproducible
	// stream that the production PSD2 decoder decodes.
	ModeDirectEvents
)

// Emulator is a Digitizer that never touches real hardware. It is the
// Source's hardware-absent path, selected in config.toml by omitting
// digitizer_url (spec.md §6).
type Emulator struct {
	Mode EmulatorMode

	// RawBufferFn, when Mode is ModeRawBytes, is called once per
	// ReadData to produce the next buffer's bytes. A nil return value
	// signals no data within timeout.
	RawBufferFn func(seq int) []byte

	// BatchSize is the number of synthetic events per buffer under
	// ModeDirectEvents.
	BatchSize int

	// StopAfter, if > 0, makes ReadData return OutcomeStop once this
	// many buffers have been produced, simulating a clean end of run.
	StopAfter int

	seq     int
	opened  bool
	rand    *rand.Rand
}

// NewEmulator returns an Emulator with a deterministic PRNG seed so
// repeated runs of the same test produce the same synthetic stream.
func NewEmulator(mode EmulatorMode, seed int64) *Emulator {
	return &Emulator{Mode: mode, BatchSize: 16, rand: rand.New(rand.NewSource(seed))}
}

func (e *Emulator) Open(url string) error { e.opened = true; return nil }

func (e *Emulator) GetDeviceInfo() (DeviceInfo, error) {
	return DeviceInfo{Model: "delila-emulator", Serial: "EMU-0", Firmware: "sim", NumChannels: 16}, nil
}

func (e *Emulator) SetValue(path, value string) error { return nil }
func (e *Emulator) GetValue(path string) (string, error) { return "", nil }
func (e *Emulator) SendCommand(cmd string) error { return nil }
func (e *Emulator) ConfigureEndpoint() error { return nil }
func (e *Emulator) Close() error { e.opened = false; return nil }

// ReadData synthesises the next RawBuffer according to Mode.
func (e *Emulator) ReadData(timeout time.Duration) (ReadResult, error) {
	if !e.opened {
		return ReadResult{}, errs.ErrDeviceHardware
	}
	if e.StopAfter > 0 && e.seq >= e.StopAfter {
		return ReadResult{Outcome: OutcomeStop}, nil
	}

	switch e.Mode {
	case ModeRawBytes:
		if e.RawBufferFn == nil {
			return ReadResult{Outcome: OutcomeTimeout}, nil
		}
		data := e.RawBufferFn(e.seq)
		if data == nil {
			return ReadResult{Outcome: OutcomeTimeout}, nil
		}
		e.seq++
		return ReadResult{Outcome: OutcomeOK, Buf: decode.RawBuffer{Bytes: data, Size: len(data)}}, nil

	case ModeDirectEvents:
		data := e.syntheticPSD2Buffer()
		e.seq++
		return ReadResult{Outcome: OutcomeOK, Buf: decode.RawBuffer{Bytes: data, Size: len(data), NEventsHint: e.BatchSize}}, nil

	default:
		return ReadResult{Outcome: OutcomeTimeout}, nil
	}
}

// syntheticPSD2Buffer builds a real, decodable PSD2 aggregate of
// single-word events so the emulator's "direct events" mode still
// exercises the production decoder rather than bypassing it, while
// staying deterministic under the Emulator's seeded PRNG.
func (e *Emulator) syntheticPSD2Buffer() []byte {
	totalWords := 1 + e.BatchSize
	buf := make([]byte, 8*totalWords)

	header := uint64(0x2)<<60 | uint64(totalWords)
	putBE64(buf[0:8], header)

	baseTs := uint32(e.seq * 1000)
	for i := 0; i < e.BatchSize; i++ {
		channel := uint64(e.rand.Intn(16))
		energy := uint64(e.rand.Intn(4096))
		ts := uint64(baseTs) + uint64(i)
		word := uint64(1)<<63 | channel<<56 | ts<<16 | energy
		putBE64(buf[8+i*8:16+i*8], word)
	}
	return buf
}

func putBE64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (56 - 8*i))
	}
}

var _ Digitizer = (*Emulator)(nil)
