// Package record defines the decoded data model shared by every stage of
// the pipeline: the event produced by a decoder, the waveform it may carry,
// the batch a source publishes, and the run configuration an Operator hands
// out on Configure.
package record

// EventRecord is the decoded unit produced by a Decoder. timestamp_ns is
// monotone-nondecreasing per (ModuleID, Channel) within a single
// digitizer's acquisition; across channels or modules it is not ordered
// until a Sorter or a Decoder's own per-buffer sort establishes it.
type EventRecord struct {
	ModuleID    uint8
	Channel     uint8 // 0-127
	Energy      uint16
	EnergyShort uint16
	TimestampNs float64
	FineTime    uint16 // 10-bit
	Flags       uint32
	Waveform    *Waveform // nil when the event carries no waveform
}

// Waveform is the optional per-event sample trace. DigitalProbe3/4 are
// always empty for PSD1 decodes; PSD1 carries only two digital probes.
type Waveform struct {
	AnalogProbe1     []int16
	AnalogProbe2     []int16
	DigitalProbe1    []uint8
	DigitalProbe2    []uint8
	DigitalProbe3    []uint8
	DigitalProbe4    []uint8
	TimeResolution   uint8
	TriggerThreshold uint16
}

// EventBatch is the wire unit a Source publishes. SequenceNumber is
// strictly increasing per SourceID within a run and resets to zero on
// every Start.
type EventBatch struct {
	SourceID       uint32
	SequenceNumber uint64
	Timestamp      uint64 // wall clock, ns since epoch
	Events         []EventRecord
}

// RunConfig is the payload of a Configure command.
type RunConfig struct {
	RunNumber int    `msgpack:"run_number"`
	ExpName   string `msgpack:"exp_name"`
	Comment   string `msgpack:"comment"`
}

// ByTimestamp sorts a slice of EventRecord ascending by TimestampNs. Every
// decoder must sort its per-buffer output with this before returning, and
// the Recorder's sort buffer uses the same ordering.
type ByTimestamp []EventRecord

func (b ByTimestamp) Len() int           { return len(b) }
func (b ByTimestamp) Less(i, j int) bool { return b[i].TimestampNs < b[j].TimestampNs }
func (b ByTimestamp) Swap(i, j int)      { b[i], b[j] = b[j], b[i] }
