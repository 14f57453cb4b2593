// Package filefmt implements the Recorder's on-disk segment format
// (spec.md §4.5): a magic-delimited header, a stream of length-prefixed
// MessagePack EventBatch blocks covered by a running xxHash64, and a
// fixed 64-byte footer carrying the final checksum and summary stats.
package filefmt

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/usnistgov/delila/errs"
	"github.com/usnistgov/delila/internal/checksum"
	"github.com/usnistgov/delila/record"
	"github.com/vmihailenco/msgpack/v5"
)

// Magic values bracketing a segment. headerMagicLen/footerMagicLen are
// both 8 bytes; the footer's remaining 56 bytes are the fixed fields
// below it, for a 64-byte footer total.
var (
	headerMagic = [8]byte{'D', 'E', 'L', 'I', 'L', 'A', '0', '2'}
	footerMagic = [8]byte{'D', 'L', 'E', 'N', 'D', '0', '0', '2'}
)

const footerSize = 8 + 8 + 8 + 8 + 8 + 8 + 8 + 8 // magic+checksum+events+bytes+first_ts+last_ts+end_time+complete/rsvd

// FileHeader is the MessagePack-encoded payload following the header
// magic and its u32 length prefix.
type FileHeader struct {
	RunNumber      int    `msgpack:"run_number"`
	FileSequence   int    `msgpack:"file_sequence"`
	ExpName        string `msgpack:"exp_name"`
	Comment        string `msgpack:"comment"`
	StartTimeNs    uint64 `msgpack:"start_time_ns"`
}

// FileFooter is the fixed 64-byte trailer. WriteComplete is 1 for a
// clean close, 0 when a crash truncated the segment mid-write.
type FileFooter struct {
	Checksum      uint64
	TotalEvents   uint64
	DataBytes     uint64
	FirstTsNs     float64
	LastTsNs      float64
	EndTimeNs     uint64
	WriteComplete bool
}

// Writer appends length-prefixed EventBatch blocks to one open segment
// file, accumulating a streaming xxHash64 over every length-prefix and
// payload byte so the footer's checksum never requires a re-read.
type Writer struct {
	f        *os.File
	bw       *bufio.Writer
	sum      *checksum.Streamer
	dataBytes   uint64
	totalEvents uint64
	firstTs     float64
	lastTs      float64
	haveFirst   bool
}

// Create opens path, writes the header magic, its length prefix, and the
// MessagePack-encoded FileHeader, and returns a Writer ready to accept
// blocks.
func Create(path string, header FileHeader) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("filefmt: create %s: %w", path, err)
	}
	bw := bufio.NewWriter(f)

	encoded, err := msgpack.Marshal(header)
	if err != nil {
		f.Close()
		return nil, err
	}

	if _, err := bw.Write(headerMagic[:]); err != nil {
		f.Close()
		return nil, err
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(encoded)))
	if _, err := bw.Write(lenBuf[:]); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := bw.Write(encoded); err != nil {
		f.Close()
		return nil, err
	}

	return &Writer{f: f, bw: bw, sum: checksum.NewStreamer()}, nil
}

// WriteBatch appends one length-prefixed MessagePack-encoded EventBatch
// block, folding the length prefix and payload into the running
// checksum.
func (w *Writer) WriteBatch(batch record.EventBatch) error {
	encoded, err := msgpack.Marshal(batch)
	if err != nil {
		return err
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(encoded)))
	if _, err := w.bw.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	if _, err := w.sum.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.bw.Write(encoded); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIO, err)
	}
	if _, err := w.sum.Write(encoded); err != nil {
		return err
	}

	w.dataBytes += uint64(4 + len(encoded))
	w.totalEvents += uint64(len(batch.Events))
	for _, e := range batch.Events {
		if !w.haveFirst {
			w.firstTs = e.TimestampNs
			w.haveFirst = true
		}
		w.lastTs = e.TimestampNs
	}
	return nil
}

// Close writes the footer magic, the accumulated checksum, and the
// summary fields, then fsyncs the file. fsync happens only here:
// intermediate WriteBatch calls stay buffered (spec.md §4.5).
func (w *Writer) Close(endTimeNs uint64, complete bool) error {
	if _, err := w.bw.Write(footerMagic[:]); err != nil {
		return err
	}

	var buf [footerSize - 8]byte
	binary.LittleEndian.PutUint64(buf[0:8], w.sum.Sum64())
	binary.LittleEndian.PutUint64(buf[8:16], w.totalEvents)
	binary.LittleEndian.PutUint64(buf[16:24], w.dataBytes)
	binary.LittleEndian.PutUint64(buf[24:32], math.Float64bits(w.firstTs))
	binary.LittleEndian.PutUint64(buf[32:40], math.Float64bits(w.lastTs))
	binary.LittleEndian.PutUint64(buf[40:48], endTimeNs)
	if complete {
		buf[48] = 1
	}
	if _, err := w.bw.Write(buf[:]); err != nil {
		return err
	}

	if err := w.bw.Flush(); err != nil {
		return err
	}
	if err := w.f.Sync(); err != nil {
		return err
	}
	return w.f.Close()
}

// Abort closes the underlying file without writing a footer, leaving a
// segment that Recover will detect as crashed by missing footer magic.
func (w *Writer) Abort() error {
	_ = w.bw.Flush()
	return w.f.Close()
}

// BytesWritten reports the data-block byte count written so far
// (header and footer excluded), used by the Recorder to decide when a
// segment has crossed its rotation budget.
func (w *Writer) BytesWritten() uint64 { return w.dataBytes }

// Reader streams FileHeader and EventBatch blocks back out of a closed
// (or crashed) segment for validation and recovery.
type Reader struct {
	r   *bufio.Reader
	f   *os.File
}

// Open reads and validates the header magic and decodes the FileHeader.
func Open(path string) (*Reader, FileHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, FileHeader{}, err
	}
	br := bufio.NewReader(f)

	var magic [8]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		f.Close()
		return nil, FileHeader{}, fmt.Errorf("%w: %v", errs.ErrTruncatedFile, err)
	}
	if magic != headerMagic {
		f.Close()
		return nil, FileHeader{}, errs.ErrInvalidMagic
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
		f.Close()
		return nil, FileHeader{}, fmt.Errorf("%w: %v", errs.ErrTruncatedFile, err)
	}
	hdrLen := binary.LittleEndian.Uint32(lenBuf[:])
	if hdrLen == 0 || hdrLen > 1<<20 {
		f.Close()
		return nil, FileHeader{}, errs.ErrInvalidHeaderSize
	}

	hdrBytes := make([]byte, hdrLen)
	if _, err := io.ReadFull(br, hdrBytes); err != nil {
		f.Close()
		return nil, FileHeader{}, fmt.Errorf("%w: %v", errs.ErrTruncatedFile, err)
	}
	var header FileHeader
	if err := msgpack.Unmarshal(hdrBytes, &header); err != nil {
		f.Close()
		return nil, FileHeader{}, err
	}

	return &Reader{r: br, f: f}, header, nil
}

// NextBatch reads the next length-prefixed block. It does not recognise
// the footer: callers check PeekNext against the footer magic first and
// call ReadFooter instead when it matches. At the end of the file it
// returns io.EOF.
func (r *Reader) NextBatch() (record.EventBatch, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r.r, lenBuf[:]); err != nil {
		return record.EventBatch{}, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return record.EventBatch{}, fmt.Errorf("%w: %v", errs.ErrTruncatedFile, err)
	}
	var batch record.EventBatch
	if err := msgpack.Unmarshal(payload, &batch); err != nil {
		return record.EventBatch{}, err
	}
	return batch, nil
}

// PeekNext returns the next 8 bytes without consuming them, enough for
// callers to distinguish a length prefix from the footer magic before
// deciding whether to call NextBatch or ReadFooter.
func (r *Reader) PeekNext() ([]byte, error) {
	b, err := r.r.Peek(8)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error { return r.f.Close() }

// IsFooterMagic reports whether the given 8 bytes equal the footer
// magic.
func IsFooterMagic(b [8]byte) bool { return b == footerMagic }

// ReadFooter reads and decodes the fixed 64-byte footer starting at the
// current reader position (which must be positioned immediately after
// the last data block, at the footer magic).
func ReadFooter(r *Reader) (FileFooter, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r.r, magic[:]); err != nil {
		return FileFooter{}, fmt.Errorf("%w: %v", errs.ErrTruncatedFile, err)
	}
	if magic != footerMagic {
		return FileFooter{}, errs.ErrInvalidMagic
	}

	var buf [footerSize - 8]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return FileFooter{}, fmt.Errorf("%w: %v", errs.ErrTruncatedFile, err)
	}

	return FileFooter{
		Checksum:      binary.LittleEndian.Uint64(buf[0:8]),
		TotalEvents:   binary.LittleEndian.Uint64(buf[8:16]),
		DataBytes:     binary.LittleEndian.Uint64(buf[16:24]),
		FirstTsNs:     math.Float64frombits(binary.LittleEndian.Uint64(buf[24:32])),
		LastTsNs:      math.Float64frombits(binary.LittleEndian.Uint64(buf[32:40])),
		EndTimeNs:     binary.LittleEndian.Uint64(buf[40:48]),
		WriteComplete: buf[48] == 1,
	}, nil
}
