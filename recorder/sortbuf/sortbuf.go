// Package sortbuf implements the Recorder's bounded out-of-order
// correction (spec.md §4.5, §8 property 8): events arrive cross-channel
// scrambled within a digitizer's internal buffer horizon, so the sorter
// keeps a trailing margin of the most recent records and only flushes
// what is guaranteed not to be displaced by a later arrival.
package sortbuf

import (
	"sort"

	"github.com/usnistgov/delila/record"
)

// SortBuffer accumulates EventRecords and periodically flushes a
// contiguous, sorted prefix while retaining a trailing margin as carry.
// It is not safe for concurrent use; the Recorder's sorter task owns one
// exclusively (spec.md §3 ownership rule).
type SortBuffer struct {
	events      []record.EventRecord
	minBuffer   int
	minMargin   int
	marginRatio float64
}

// New returns an empty SortBuffer. minBufferEvents is the threshold
// below which Flush returns nothing; minMargin and marginRatio
// parameterize the margin count `m = max(minMargin, ceil(len*marginRatio))`.
func New(minBufferEvents, minMargin int, marginRatio float64) *SortBuffer {
	return &SortBuffer{
		minBuffer:   minBufferEvents,
		minMargin:   minMargin,
		marginRatio: marginRatio,
	}
}

// Len reports how many records are currently buffered (flushable plus
// carry).
func (b *SortBuffer) Len() int { return len(b.events) }

// Ingest appends a batch's events to the buffer. It does not sort or
// flush by itself; call Flush to attempt a drain.
func (b *SortBuffer) Ingest(events []record.EventRecord) {
	b.events = append(b.events, events...)
}

// Flush sorts the buffer ascending by timestamp_ns if it holds at least
// minBufferEvents, then drains len-m elements as a flushable block,
// retaining the trailing m as carry. It returns nil if the buffer is
// below threshold, so repeated calls are safe to make unconditionally
// after every Ingest.
func (b *SortBuffer) Flush() []record.EventRecord {
	if len(b.events) < b.minBuffer {
		return nil
	}
	sort.Sort(record.ByTimestamp(b.events))

	m := b.margin(len(b.events))
	if m >= len(b.events) {
		return nil
	}

	flushable := b.events[:len(b.events)-m]
	out := make([]record.EventRecord, len(flushable))
	copy(out, flushable)

	carry := make([]record.EventRecord, m)
	copy(carry, b.events[len(b.events)-m:])
	b.events = carry

	return out
}

// Drain sorts and returns every buffered record with no margin retained,
// emptying the buffer. Used on Stop (spec.md §4.5: "the sorter drains the
// full buffer, no margin, then closes the writer queue").
func (b *SortBuffer) Drain() []record.EventRecord {
	sort.Sort(record.ByTimestamp(b.events))
	out := b.events
	b.events = nil
	return out
}

func (b *SortBuffer) margin(n int) int {
	m := int(marginCeil(float64(n) * b.marginRatio))
	if m < b.minMargin {
		return b.minMargin
	}
	return m
}

func marginCeil(f float64) float64 {
	i := float64(int(f))
	if f > i {
		return i + 1
	}
	return i
}
