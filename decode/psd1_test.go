package decode

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leWords(words ...uint32) []byte {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], w)
	}
	return buf
}

// buildPSD1Buffer assembles one board aggregate containing one
// dual-channel block (pair n=0) with only the Time and Charge words
// present, per spec §4.2's fixed Time → Extras → Waveform → Charge order.
func buildPSD1Buffer(t *testing.T, coarseTime uint32, intraPairFlag uint32, energy, pileup, energyShort uint32) []byte {
	t.Helper()

	timeWord := intraPairFlag<<31 | coarseTime&0x7FFFFFFF
	chargeWord := energy<<16 | pileup<<15 | energyShort&0x7FFF

	dualBlockSizeWords := uint32(2 + 1 + 1) // header(2) + time(1) + charge(1)
	dualHeader0 := uint32(1)<<31 | dualBlockSizeWords&0x3FFFFF
	dualHeader1 := uint32(1)<<30 | uint32(1)<<29 // EQ=1, ET=1, DT/EE/ES=0, extrasFormat=0, numSampWave=0

	dualBlock := leWords(dualHeader0, dualHeader1, timeWord, chargeWord)

	boardBlockSizeWords := uint32(4 + len(dualBlock)/4)
	boardHeader0 := uint32(0xA)<<28 | boardBlockSizeWords&0x0FFFFFFF
	boardHeader1 := uint32(0x01) // dual-channel mask: pair n=0 enabled
	boardHeader2 := uint32(0)
	boardHeader3 := uint32(0)

	buf := leWords(boardHeader0, boardHeader1, boardHeader2, boardHeader3)
	return append(buf, dualBlock...)
}

func TestPSD1Decode_EvenChannel(t *testing.T) {
	buf := buildPSD1Buffer(t, 12345, 0, 100, 0, 50)

	dec := NewPSD1Decoder(9)
	events, err := dec.Decode(RawBuffer{Bytes: buf})
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, uint8(9), ev.ModuleID)
	assert.Equal(t, uint8(0), ev.Channel, "even intra-pair flag selects channel 2n")
	assert.Equal(t, uint16(100), ev.Energy)
	assert.Equal(t, uint16(50), ev.EnergyShort)
	assert.Zero(t, ev.Flags&0xFFFF, "no pileup bit set")
	assert.Equal(t, float64(12345)*psd1TimeStepNs, ev.TimestampNs, "no extras word: timestamp is coarse time only")
}

func TestPSD1Decode_OddChannelAndPileup(t *testing.T) {
	buf := buildPSD1Buffer(t, 500, 1, 200, 1, 75)

	dec := NewPSD1Decoder(0)
	events, err := dec.Decode(RawBuffer{Bytes: buf})
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, uint8(1), ev.Channel, "odd intra-pair flag selects channel 2n+1")
	assert.NotZero(t, ev.Flags&0x40000000, "pileup bit must be set")
	assert.Equal(t, uint16(200), ev.Energy)
	assert.Equal(t, uint16(75), ev.EnergyShort)
}

func TestPSD1Decode_InvalidHeader(t *testing.T) {
	buf := leWords(0xB0000004, 0, 0, 0) // top nibble 0xB, not 0xA

	dec := NewPSD1Decoder(0)
	events, err := dec.Decode(RawBuffer{Bytes: buf})
	assert.Error(t, err)
	assert.Empty(t, events)
}

func TestPSD1Decode_EmptyBuffer(t *testing.T) {
	dec := NewPSD1Decoder(0)
	events, err := dec.Decode(RawBuffer{Bytes: nil})
	assert.NoError(t, err)
	assert.Empty(t, events)
}

func TestPSD1Decode_InsufficientData(t *testing.T) {
	buf := leWords(0xA0000004) // claims a 4-word block header but buffer is only 1 word

	dec := NewPSD1Decoder(0)
	events, err := dec.Decode(RawBuffer{Bytes: buf})
	assert.Error(t, err)
	assert.Empty(t, events)
}

func TestPSD1Decode_WithExtras(t *testing.T) {
	// Build a block with ET + EE (extras, format 0b010) + EQ, no waveform.
	coarseTime := uint32(1000)
	timeWord := coarseTime & 0x7FFFFFFF

	extendedTime := uint32(3)
	fineTime := uint32(200)
	flags6 := uint32(0x15)
	extrasWord := extendedTime<<16 | flags6<<10 | fineTime&0x3FF

	chargeWord := uint32(42)<<16 | uint32(0)<<15 | uint32(10)

	dualBlockSizeWords := uint32(2 + 1 + 1 + 1)
	dualHeader0 := uint32(1)<<31 | dualBlockSizeWords
	dualHeader1 := uint32(1)<<30 | uint32(1)<<29 | uint32(1)<<28 | uint32(0b010)<<24

	dualBlock := leWords(dualHeader0, dualHeader1, timeWord, extrasWord, chargeWord)

	boardBlockSizeWords := uint32(4 + len(dualBlock)/4)
	boardHeader0 := uint32(0xA)<<28 | boardBlockSizeWords
	buf := append(leWords(boardHeader0, 0x01, 0, 0), dualBlock...)

	dec := NewPSD1Decoder(0)
	events, err := dec.Decode(RawBuffer{Bytes: buf})
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, uint16(fineTime), ev.FineTime)
	wantCombined := uint64(extendedTime)<<31 | uint64(coarseTime)
	wantTs := float64(wantCombined)*psd1TimeStepNs + float64(fineTime)*(psd1TimeStepNs/1024)
	assert.Equal(t, wantTs, ev.TimestampNs)
	assert.Equal(t, flags6, ev.Flags)
}
