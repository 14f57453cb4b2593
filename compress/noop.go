package compress

import "io"

type noopWriter struct{ io.Writer }

func newNoopWriter(w io.Writer) io.WriteCloser { return noopWriter{w} }

func (noopWriter) Close() error { return nil }

type noopReader struct{ io.Reader }

func newNoopReader(r io.Reader) io.ReadCloser { return noopReader{r} }

func (noopReader) Close() error { return nil }
