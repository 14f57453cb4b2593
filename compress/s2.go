package compress

import (
	"io"

	"github.com/klauspost/compress/s2"
)

func newS2Writer(w io.Writer) io.WriteCloser {
	return s2.NewWriter(w)
}

type s2Reader struct {
	*s2.Reader
}

func (s2Reader) Close() error { return nil }

func newS2Reader(r io.Reader) io.ReadCloser {
	return s2Reader{s2.NewReader(r)}
}
