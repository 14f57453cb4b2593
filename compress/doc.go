// Package compress provides streaming compression codecs for the
// recorder's cold-archival path.
//
// A closed segment file (spec.md §4.5) can approach the recorder's
// rotation budget, so compression here is applied to a whole file stream
// rather than to individual in-memory payloads: NewWriter/NewReader wrap
// an io.Writer/io.Reader, letting the archiver goroutine pipe a segment
// through io.Copy without holding the whole thing in memory.
//
// # Supported algorithms
//
//   - None: bypass, used when archival compression is disabled
//   - LZ4: fast decompression, moderate ratio
//   - S2: balanced speed and ratio, Snappy-compatible
//   - Zstd: best ratio, used for long-term cold storage
package compress
