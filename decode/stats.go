package decode

import "sync/atomic"

// Stats counts the outcomes of every Decode call a Decoder services. All
// fields are accessed through atomic operations so the decode loop can
// update them without a lock and a status handler can snapshot them
// concurrently.
type Stats struct {
	buffersDecoded       uint64
	eventsDecoded        uint64
	invalidHeader        uint64
	insufficientData     uint64
	outOfBounds          uint64
	specialEventsSkipped uint64
}

// Snapshot is a point-in-time copy of Stats safe to read without atomics.
type Snapshot struct {
	BuffersDecoded       uint64
	EventsDecoded        uint64
	InvalidHeader        uint64
	InsufficientData     uint64
	OutOfBounds          uint64
	SpecialEventsSkipped uint64
}

func (s *Stats) addBuffersDecoded()       { atomic.AddUint64(&s.buffersDecoded, 1) }
func (s *Stats) addEventsDecoded(n int)   { atomic.AddUint64(&s.eventsDecoded, uint64(n)) }
func (s *Stats) addInvalidHeader()        { atomic.AddUint64(&s.invalidHeader, 1) }
func (s *Stats) addInsufficientData()     { atomic.AddUint64(&s.insufficientData, 1) }
func (s *Stats) addOutOfBounds()          { atomic.AddUint64(&s.outOfBounds, 1) }
func (s *Stats) addSpecialEventsSkipped() { atomic.AddUint64(&s.specialEventsSkipped, 1) }

// Snapshot returns a consistent-enough copy of the counters for status
// reporting. Individual fields may be read under slightly different
// instants relative to each other; this is acceptable for a metrics
// endpoint, never for control decisions.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		BuffersDecoded:       atomic.LoadUint64(&s.buffersDecoded),
		EventsDecoded:        atomic.LoadUint64(&s.eventsDecoded),
		InvalidHeader:        atomic.LoadUint64(&s.invalidHeader),
		InsufficientData:     atomic.LoadUint64(&s.insufficientData),
		OutOfBounds:          atomic.LoadUint64(&s.outOfBounds),
		SpecialEventsSkipped: atomic.LoadUint64(&s.specialEventsSkipped),
	}
}
