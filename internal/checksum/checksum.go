// Package checksum wraps xxHash64 for the two ways the recorder's file
// format uses it: a one-shot sum for small self-checks, and a streaming
// accumulator run incrementally over every length-prefix+payload byte
// written to a segment so the footer's checksum covers the whole segment
// without buffering it.
package checksum

import "github.com/cespare/xxhash/v2"

// Sum computes the xxHash64 of data in one call.
func Sum(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// Streamer accumulates an xxHash64 digest across multiple Write calls.
// It is not safe for concurrent use; the recorder's writer task owns one
// per open segment.
type Streamer struct {
	h *xxhash.Digest
}

// NewStreamer returns a Streamer ready to accept writes.
func NewStreamer() *Streamer {
	return &Streamer{h: xxhash.New()}
}

// Write feeds p into the running digest. It never returns an error;
// the signature matches io.Writer so a Streamer can sit behind an
// io.MultiWriter alongside the segment's file handle.
func (s *Streamer) Write(p []byte) (int, error) {
	return s.h.Write(p)
}

// Sum64 returns the digest of every byte written so far without
// resetting the accumulator.
func (s *Streamer) Sum64() uint64 {
	return s.h.Sum64()
}

// Reset clears the accumulator so the Streamer can be reused for the
// next segment instead of being reallocated.
func (s *Streamer) Reset() {
	s.h.Reset()
}
