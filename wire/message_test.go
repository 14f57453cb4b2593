package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usnistgov/delila/record"
)

func sampleBatch() record.EventBatch {
	return record.EventBatch{
		SourceID:       7,
		SequenceNumber: 42,
		Timestamp:      1_000_000,
		Events: []record.EventRecord{
			{ModuleID: 1, Channel: 2, Energy: 100, TimestampNs: 800},
			{ModuleID: 1, Channel: 3, Energy: 200, TimestampNs: 1600},
		},
	}
}

func TestEncodeDecodeData_RoundTrip(t *testing.T) {
	batch := sampleBatch()

	data, err := EncodeData(batch)
	require.NoError(t, err)

	got, err := DecodeData(data)
	require.NoError(t, err)
	assert.Equal(t, batch, got)
}

func TestEncodeDecodeData_RoundTrip_WithWaveform(t *testing.T) {
	batch := record.EventBatch{
		SourceID:       3,
		SequenceNumber: 1,
		Timestamp:      500,
		Events: []record.EventRecord{
			{
				ModuleID: 2, Channel: 5, Energy: 999, EnergyShort: 11,
				TimestampNs: 80, FineTime: 512, Flags: 0xABCDE,
				Waveform: &record.Waveform{
					AnalogProbe1:     []int16{1, -2, 3},
					AnalogProbe2:     []int16{4, 5},
					DigitalProbe1:    []uint8{0, 1, 1, 0},
					TimeResolution:   2,
					TriggerThreshold: 300,
				},
			},
		},
	}

	data, err := EncodeData(batch)
	require.NoError(t, err)

	got, err := DecodeData(data)
	require.NoError(t, err)
	assert.Equal(t, batch, got)
}

func TestPeekHeader_Data(t *testing.T) {
	batch := sampleBatch()
	data, err := EncodeData(batch)
	require.NoError(t, err)

	hdr, err := PeekHeader(data)
	require.NoError(t, err)
	assert.Equal(t, KindData, hdr.Kind)
	assert.Equal(t, batch.SourceID, hdr.SourceID)
	assert.Equal(t, batch.SequenceNumber, hdr.SequenceNumber)
	assert.Equal(t, batch.Timestamp, hdr.Timestamp)
}

func TestPeekHeader_DoesNotRequireValidEventsPayload(t *testing.T) {
	// Truncate the events array down to garbage: PeekHeader must still
	// succeed since it never reads past the three leading scalar fields.
	batch := sampleBatch()
	data, err := EncodeData(batch)
	require.NoError(t, err)

	headerLen, err := HeaderPrefixLen(data)
	require.NoError(t, err)

	truncated := append(data[:headerLen:headerLen], 0xFF, 0xFF, 0xFF)
	hdr, err := PeekHeader(truncated)
	require.NoError(t, err)
	assert.Equal(t, KindData, hdr.Kind)
}

func TestPeekHeader_EndOfStream(t *testing.T) {
	data, err := EncodeEndOfStream(5, 999)
	require.NoError(t, err)

	hdr, err := PeekHeader(data)
	require.NoError(t, err)
	assert.Equal(t, KindEndOfStream, hdr.Kind)
	assert.Equal(t, uint32(5), hdr.SourceID)
	assert.Equal(t, uint64(999), hdr.SequenceNumber)
}

func TestPeekHeader_Heartbeat(t *testing.T) {
	data, err := EncodeHeartbeat(5, 123456)
	require.NoError(t, err)

	hdr, err := PeekHeader(data)
	require.NoError(t, err)
	assert.Equal(t, KindHeartbeat, hdr.Kind)
	assert.Equal(t, uint32(5), hdr.SourceID)
	assert.Equal(t, uint64(123456), hdr.Timestamp)
}

func TestPeekHeader_UnknownTag(t *testing.T) {
	data, err := EncodeEndOfStream(1, 2)
	require.NoError(t, err)
	data[1] = 99 // corrupt the tag byte (fixext/fixarray encoding puts it right after the array header)

	_, err = PeekHeader(data)
	assert.Error(t, err)
}

func TestPeekHeader_UnexpectedArrayLength(t *testing.T) {
	_, err := PeekHeader([]byte{0x91, 0x01}) // fixarray of length 1
	assert.Error(t, err)
}
