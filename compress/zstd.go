package compress

import (
	"io"

	"github.com/valyala/gozstd"
)

func newZstdWriter(w io.Writer) io.WriteCloser {
	return gozstd.NewWriter(w)
}

type zstdReader struct {
	*gozstd.Reader
}

func (r zstdReader) Close() error {
	r.Reader.Release()
	return nil
}

func newZstdReader(r io.Reader) io.ReadCloser {
	return zstdReader{gozstd.NewReader(r)}
}
