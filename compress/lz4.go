package compress

import (
	"io"

	"github.com/pierrec/lz4/v4"
)

func newLZ4Writer(w io.Writer) io.WriteCloser {
	return lz4.NewWriter(w)
}

type lz4Reader struct {
	*lz4.Reader
}

func (lz4Reader) Close() error { return nil }

func newLZ4Reader(r io.Reader) io.ReadCloser {
	return lz4Reader{lz4.NewReader(r)}
}
