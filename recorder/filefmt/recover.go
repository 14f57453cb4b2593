package filefmt

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/usnistgov/delila/record"
	"github.com/vmihailenco/msgpack/v5"
)

// RecoverResult summarizes what a crash-recovery pass salvaged from a
// segment that never closed cleanly.
type RecoverResult struct {
	BlocksRecovered int
	EventsRecovered uint64
	TruncatedAt     int64 // byte offset where parsing stopped
}

// Recover implements spec.md §4.5's crash scenario: it traverses a
// segment's length-prefixed blocks until the first one that fails to
// parse or runs past EOF, then writes a new file at outPath containing
// every block parsed up to that point plus a freshly computed footer
// with write_complete=1. The source file is never modified.
//
// A segment is recognised as crashed by the caller (missing footer
// magic, write_complete=0, or checksum mismatch); Recover itself only
// performs the truncate-and-refooter operation.
func Recover(srcPath, outPath string) (RecoverResult, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return RecoverResult{}, err
	}
	defer src.Close()

	var magic [8]byte
	if _, err := io.ReadFull(src, magic[:]); err != nil {
		return RecoverResult{}, fmt.Errorf("recover: reading header magic: %w", err)
	}
	if magic != headerMagic {
		return RecoverResult{}, fmt.Errorf("recover: %s is not a delila segment", srcPath)
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(src, lenBuf[:]); err != nil {
		return RecoverResult{}, fmt.Errorf("recover: reading header length: %w", err)
	}
	hdrLen := binary.LittleEndian.Uint32(lenBuf[:])
	hdrBytes := make([]byte, hdrLen)
	if _, err := io.ReadFull(src, hdrBytes); err != nil {
		return RecoverResult{}, fmt.Errorf("recover: reading header: %w", err)
	}
	var header FileHeader
	if err := msgpack.Unmarshal(hdrBytes, &header); err != nil {
		return RecoverResult{}, fmt.Errorf("recover: decoding header: %w", err)
	}

	out, err := Create(outPath, header)
	if err != nil {
		return RecoverResult{}, err
	}

	var result RecoverResult
	var offset int64 = int64(8 + 4 + hdrLen)

	for {
		var blockLen [4]byte
		if _, err := io.ReadFull(src, blockLen[:]); err != nil {
			break // EOF or short read: stop here, this is the truncation point
		}
		n := binary.LittleEndian.Uint32(blockLen[:])
		payload := make([]byte, n)
		if _, err := io.ReadFull(src, payload); err != nil {
			break
		}

		var batch record.EventBatch
		if err := msgpack.Unmarshal(payload, &batch); err != nil {
			break // first block that fails to parse: stop, don't include it
		}

		if err := out.WriteBatch(batch); err != nil {
			out.Abort()
			return RecoverResult{}, err
		}
		offset += int64(4 + n)
		result.BlocksRecovered++
		result.EventsRecovered += uint64(len(batch.Events))
	}
	result.TruncatedAt = offset

	if err := out.Close(uint64(time.Now().UnixNano()), true); err != nil {
		return RecoverResult{}, err
	}
	return result, nil
}
