package compress

import (
	"fmt"
	"io"
)

// Algorithm names one of the streaming codecs this package provides.
type Algorithm string

const (
	None Algorithm = "none"
	LZ4  Algorithm = "lz4"
	S2   Algorithm = "s2"
	Zstd Algorithm = "zstd"
)

// NewWriter wraps w so that bytes written to the returned WriteCloser are
// compressed using algorithm before reaching w. Callers must Close the
// returned writer to flush any buffered output.
func NewWriter(algorithm Algorithm, w io.Writer) (io.WriteCloser, error) {
	switch algorithm {
	case None, "":
		return newNoopWriter(w), nil
	case LZ4:
		return newLZ4Writer(w), nil
	case S2:
		return newS2Writer(w), nil
	case Zstd:
		return newZstdWriter(w), nil
	default:
		return nil, fmt.Errorf("compress: unknown algorithm %q", algorithm)
	}
}

// NewReader wraps r so that reads from the returned ReadCloser yield the
// decompressed bytes of a stream written with the matching algorithm.
func NewReader(algorithm Algorithm, r io.Reader) (io.ReadCloser, error) {
	switch algorithm {
	case None, "":
		return newNoopReader(r), nil
	case LZ4:
		return newLZ4Reader(r), nil
	case S2:
		return newS2Reader(r), nil
	case Zstd:
		return newZstdReader(r), nil
	default:
		return nil, fmt.Errorf("compress: unknown algorithm %q", algorithm)
	}
}
