package decode

import (
	"sort"

	"github.com/usnistgov/delila/endian"
	"github.com/usnistgov/delila/errs"
	"github.com/usnistgov/delila/record"
)

// psd1TimeStepNs is the DT5730's coarse clock period.
const psd1TimeStepNs = 2.0

// PSD1Decoder decodes the CAEN DT5730 wire format: 32-bit little-endian
// words, a hierarchical board-aggregate / dual-channel-block layout.
type PSD1Decoder struct {
	moduleID uint8
	stats    Stats
}

// NewPSD1Decoder returns a decoder that stamps every event it produces
// with moduleID. PSD1 firmware has no software-start command, so its
// control-plane policy is ArmPolicyArmIsNoop (spec §4.6).
func NewPSD1Decoder(moduleID uint8) *PSD1Decoder {
	return &PSD1Decoder{moduleID: moduleID}
}

func (d *PSD1Decoder) Stats() Snapshot { return d.stats.Snapshot() }

// ArmPolicy reports that PSD1 boards arm implicitly on Start.
func (d *PSD1Decoder) ArmPolicy() ArmPolicy { return ArmPolicyArmIsNoop }

// Decode implements Decoder. It walks one or more board aggregate blocks,
// each carrying a dual-channel-enable mask selecting which dual-channel
// blocks follow, each of which carries events in fixed Time → Extras →
// Waveform → Charge order (spec §4.2).
func (d *PSD1Decoder) Decode(buf RawBuffer) ([]record.EventRecord, error) {
	data := buf.Bytes
	engine := endian.GetLittleEndianEngine()

	if len(data) == 0 {
		d.stats.addBuffersDecoded()
		return nil, nil
	}

	var events []record.EventRecord
	offset := 0
	var loopErr error

blockLoop:
	for offset < len(data) {
		if offset+16 > len(data) {
			d.stats.addInsufficientData()
			loopErr = errs.ErrInsufficientData
			break
		}
		word0 := engine.Uint32(data[offset : offset+4])
		if word0>>28 != 0xA {
			d.stats.addInvalidHeader()
			loopErr = errs.ErrInvalidHeader
			break
		}
		blockSizeWords := int(word0 & 0x0FFFFFFF)
		word1 := engine.Uint32(data[offset+4 : offset+8])
		dualChannelMask := uint8(word1 & 0xFF)

		blockEnd := offset + blockSizeWords*4
		if blockEnd > len(data) {
			d.stats.addInsufficientData()
			loopErr = errs.ErrInsufficientData
			break
		}

		pos := offset + 16 // past the 4-word board header
		for n := 0; n < 8; n++ {
			if dualChannelMask&(1<<uint(n)) == 0 {
				continue
			}
			consumed, evs, err := d.decodeDualChannelBlock(data[pos:blockEnd], engine, n)
			events = append(events, evs...)
			if err != nil {
				loopErr = err
				break blockLoop
			}
			pos += consumed
		}

		offset = blockEnd
	}

	d.stats.addBuffersDecoded()
	d.stats.addEventsDecoded(len(events))
	sort.Sort(record.ByTimestamp(events))
	return events, loopErr
}

// decodeDualChannelBlock parses one dual-channel block starting at the
// beginning of block. n is the pair index from the board header's
// dual-channel-enable mask (channels 2n and 2n+1).
func (d *PSD1Decoder) decodeDualChannelBlock(block []byte, engine interface {
	Uint32([]byte) uint32
}, n int) (int, []record.EventRecord, error) {
	if len(block) < 8 {
		d.stats.addInsufficientData()
		return 0, nil, errs.ErrInsufficientData
	}
	header0 := engine.Uint32(block[0:4])
	if header0>>31&0x1 != 1 {
		d.stats.addInvalidHeader()
		return 0, nil, errs.ErrInvalidHeader
	}
	blockSizeWords := int(header0 & 0x3FFFFF)

	header1 := engine.Uint32(block[4:8])
	dualTrace := header1>>31&0x1 == 1   // DT
	chargePresent := header1>>30&0x1 == 1 // EQ
	triggerTimePresent := header1>>29&0x1 == 1 // ET
	extrasPresent := header1>>28&0x1 == 1 // EE
	waveformPresent := header1>>27&0x1 == 1 // ES
	extrasFormat := uint8(header1 >> 24 & 0x7)
	numSampWave := uint16(header1 & 0xFFFF)

	blockEnd := blockSizeWords * 4
	if blockEnd > len(block) {
		d.stats.addInsufficientData()
		return 0, nil, errs.ErrInsufficientData
	}

	pos := 8
	var events []record.EventRecord

	for pos < blockEnd {
		ev := record.EventRecord{ModuleID: d.moduleID}
		var coarseTime uint32
		var extendedTime uint32
		var fineTime uint16
		var flags6 uint8
		var haveExtras bool

		if triggerTimePresent {
			if pos+4 > blockEnd {
				d.stats.addInsufficientData()
				return pos, events, errs.ErrInsufficientData
			}
			w := engine.Uint32(block[pos : pos+4])
			pos += 4
			intraPairFlag := uint8(w >> 31 & 0x1)
			coarseTime = w & 0x7FFFFFFF
			ev.Channel = uint8(2*n) + intraPairFlag
		}

		if extrasPresent {
			if pos+4 > blockEnd {
				d.stats.addInsufficientData()
				return pos, events, errs.ErrInsufficientData
			}
			w := engine.Uint32(block[pos : pos+4])
			pos += 4
			if extrasFormat == 0b010 {
				extendedTime = w >> 16 & 0xFFFF
				flags6 = uint8(w >> 10 & 0x3F)
				fineTime = uint16(w & 0x3FF)
				haveExtras = true
			}
		}

		if waveformPresent {
			wf, consumed, err := decodePSD1Waveform(block[pos:blockEnd], engine, int(numSampWave), dualTrace)
			if err != nil {
				d.stats.addInsufficientData()
				return pos, events, err
			}
			ev.Waveform = wf
			pos += consumed
		}

		if chargePresent {
			if pos+4 > blockEnd {
				d.stats.addInsufficientData()
				return pos, events, errs.ErrInsufficientData
			}
			w := engine.Uint32(block[pos : pos+4])
			pos += 4
			ev.Energy = uint16(w >> 16 & 0xFFFF)
			pileup := w>>15&0x1 == 1
			ev.EnergyShort = uint16(w & 0x7FFF)
			if pileup {
				ev.Flags |= record.FlagPileup
			}
		}

		if haveExtras {
			ev.Flags |= uint32(flags6)
			ev.FineTime = fineTime
			combined := uint64(extendedTime)<<31 | uint64(coarseTime)
			ev.TimestampNs = float64(combined)*psd1TimeStepNs + float64(fineTime)*(psd1TimeStepNs/1024)
		} else {
			// No extras word: combined timestamp is the coarse trigger
			// time tag alone, no fine-time refinement.
			ev.TimestampNs = float64(coarseTime) * psd1TimeStepNs
		}

		events = append(events, ev)
	}

	return blockEnd, events, nil
}

// decodePSD1Waveform reads numSampWave*2 32-bit words of packed samples.
// Each word carries an even sample in bits [13:0] and an odd sample in
// bits [29:16]; even samples go to analog probe 1 and odd samples to
// analog probe 2, which is the dual-trace split. The same split is applied
// when dual trace is off.
func decodePSD1Waveform(block []byte, engine interface {
	Uint32([]byte) uint32
}, numSampWave int, dualTrace bool) (*record.Waveform, int, error) {
	words := numSampWave * 2
	need := words * 4
	if need > len(block) {
		return nil, 0, errs.ErrInsufficientData
	}

	wf := &record.Waveform{}
	for w := 0; w < words; w++ {
		word := engine.Uint32(block[w*4 : w*4+4])
		sampleA := int16(word & 0x3FFF)
		digA := uint8(word >> 14 & 0x3)
		sampleB := int16(word >> 16 & 0x3FFF)
		digB := uint8(word >> 30 & 0x3)

		wf.AnalogProbe1 = append(wf.AnalogProbe1, sampleA)
		wf.AnalogProbe2 = append(wf.AnalogProbe2, sampleB)
		wf.DigitalProbe1 = append(wf.DigitalProbe1, digA&0x1, digB&0x1)
		wf.DigitalProbe2 = append(wf.DigitalProbe2, digA>>1&0x1, digB>>1&0x1)
	}

	return wf, need, nil
}
