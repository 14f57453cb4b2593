// Package wire implements the data channel's ControlMessage encoding: a
// MessagePack array whose length and (for the two non-Data variants) a
// leading discriminator tag identify which variant follows, chosen so the
// Merger can route a frame by reading only a handful of leading bytes
// (spec §6, §9 "parse header prefix from byte slice without decoding the
// rest").
package wire

import (
	"bytes"
	"fmt"

	"github.com/usnistgov/delila/record"
	"github.com/vmihailenco/msgpack/v5"
)

// HeaderPrefixLen reports how many leading bytes of data PeekHeader would
// consume, without decoding the events payload. Callers that need to slice
// off just the header (e.g. to test truncation behaviour) use this instead
// of duplicating PeekHeader's field list.
func HeaderPrefixLen(data []byte) (int, error) {
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return 0, err
	}
	switch n {
	case 4:
		if _, err := dec.DecodeUint32(); err != nil {
			return 0, err
		}
		if _, err := dec.DecodeUint64(); err != nil {
			return 0, err
		}
		if _, err := dec.DecodeUint64(); err != nil {
			return 0, err
		}
	case 3:
		if _, err := dec.DecodeUint8(); err != nil {
			return 0, err
		}
		if _, err := dec.DecodeUint32(); err != nil {
			return 0, err
		}
		if _, err := dec.DecodeUint64(); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("wire: unexpected array length %d", n)
	}
	return len(data) - r.Len(), nil
}

// Kind discriminates a ControlMessage's variant.
type Kind uint8

const (
	KindData Kind = iota
	KindEndOfStream
	KindHeartbeat
)

// Wire tags for EndOfStream/Heartbeat's leading array element. Data has no
// tag: it is a bare 4-element array, so the zero-copy merger has nothing
// extra to strip from the most common message on the wire.
const (
	tagEndOfStream uint8 = 1
	tagHeartbeat   uint8 = 2
)

// Header is the result of peeking a frame's leading bytes: enough to
// route and count it without decoding the full payload.
type Header struct {
	Kind           Kind
	SourceID       uint32
	SequenceNumber uint64 // Data: batch sequence number. EndOfStream: final_sequence.
	Timestamp      uint64 // Data: batch wall-clock stamp. Heartbeat: heartbeat stamp.
}

// EncodeData serializes an EventBatch as the bare 4-element Data array:
// [source_id, sequence_number, timestamp, events].
func EncodeData(batch record.EventBatch) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(4); err != nil {
		return nil, err
	}
	if err := enc.EncodeUint32(batch.SourceID); err != nil {
		return nil, err
	}
	if err := enc.EncodeUint64(batch.SequenceNumber); err != nil {
		return nil, err
	}
	if err := enc.EncodeUint64(batch.Timestamp); err != nil {
		return nil, err
	}
	if err := enc.Encode(batch.Events); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeData fully deserializes a Data frame into an EventBatch.
func DecodeData(data []byte) (record.EventBatch, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return record.EventBatch{}, err
	}
	if n != 4 {
		return record.EventBatch{}, fmt.Errorf("wire: Data frame has %d elements, want 4", n)
	}
	var batch record.EventBatch
	if batch.SourceID, err = dec.DecodeUint32(); err != nil {
		return record.EventBatch{}, err
	}
	if batch.SequenceNumber, err = dec.DecodeUint64(); err != nil {
		return record.EventBatch{}, err
	}
	if batch.Timestamp, err = dec.DecodeUint64(); err != nil {
		return record.EventBatch{}, err
	}
	if err = dec.Decode(&batch.Events); err != nil {
		return record.EventBatch{}, err
	}
	return batch, nil
}

// EncodeEndOfStream serializes the 3-element tagged array
// [tagEndOfStream, source_id, final_sequence].
func EncodeEndOfStream(sourceID uint32, finalSequence uint64) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(3); err != nil {
		return nil, err
	}
	if err := enc.EncodeUint8(tagEndOfStream); err != nil {
		return nil, err
	}
	if err := enc.EncodeUint32(sourceID); err != nil {
		return nil, err
	}
	if err := enc.EncodeUint64(finalSequence); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeHeartbeat serializes the 3-element tagged array
// [tagHeartbeat, source_id, timestamp].
func EncodeHeartbeat(sourceID uint32, timestamp uint64) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(3); err != nil {
		return nil, err
	}
	if err := enc.EncodeUint8(tagHeartbeat); err != nil {
		return nil, err
	}
	if err := enc.EncodeUint32(sourceID); err != nil {
		return nil, err
	}
	if err := enc.EncodeUint64(timestamp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PeekHeader reads only the array-length prefix and the small fixed
// fields every variant carries, never the Data variant's events array.
// This is the primitive the merger's zero-copy forwarding depends on: it
// costs at most a few tens of bytes of MessagePack decoding regardless of
// how large the frame's payload is.
func PeekHeader(data []byte) (Header, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return Header{}, err
	}

	switch n {
	case 4:
		sourceID, err := dec.DecodeUint32()
		if err != nil {
			return Header{}, err
		}
		seq, err := dec.DecodeUint64()
		if err != nil {
			return Header{}, err
		}
		ts, err := dec.DecodeUint64()
		if err != nil {
			return Header{}, err
		}
		return Header{Kind: KindData, SourceID: sourceID, SequenceNumber: seq, Timestamp: ts}, nil

	case 3:
		tag, err := dec.DecodeUint8()
		if err != nil {
			return Header{}, err
		}
		sourceID, err := dec.DecodeUint32()
		if err != nil {
			return Header{}, err
		}
		switch tag {
		case tagEndOfStream:
			finalSeq, err := dec.DecodeUint64()
			if err != nil {
				return Header{}, err
			}
			return Header{Kind: KindEndOfStream, SourceID: sourceID, SequenceNumber: finalSeq}, nil
		case tagHeartbeat:
			ts, err := dec.DecodeUint64()
			if err != nil {
				return Header{}, err
			}
			return Header{Kind: KindHeartbeat, SourceID: sourceID, Timestamp: ts}, nil
		default:
			return Header{}, fmt.Errorf("wire: unknown control message tag %d", tag)
		}

	default:
		return Header{}, fmt.Errorf("wire: unexpected array length %d", n)
	}
}
