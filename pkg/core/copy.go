package core

import (
	"io"

	"github.com/pkg/errors"
)

// DefaultBufferSize is the copy buffer size used when none is configured.
const DefaultBufferSize = 1024 * 1024

// Copier moves bytes from a reader to a writer through a single buffer of
// fixed size. The buffer is allocated once; memory use does not depend on
// the size of the stream. A Copier must not be used concurrently.
type Copier struct {
	buf []byte
}

// NewCopier returns a Copier with a buffer of size bytes.
func NewCopier(size int) (*Copier, error) {
	if size <= 0 {
		return nil, errors.Errorf("invalid buffer size %d", size)
	}
	return &Copier{buf: make([]byte, size)}, nil
}

// BufferSize returns the capacity of the copy buffer.
func (c *Copier) BufferSize() int {
	return len(c.buf)
}

// Copy reads from src until it reports end of stream and writes everything
// it read to dst. Any read or write failure aborts immediately and is
// returned as an IoError; short writes are not retried.
func (c *Copier) Copy(dst io.Writer, src io.Reader) (int64, error) {
	var written int64
	for {
		nr, rerr := src.Read(c.buf)
		if nr > 0 {
			nw, werr := dst.Write(c.buf[:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if werr != nil {
				return written, newError(IoError, "write", "", werr)
			}
			if nw != nr {
				return written, newError(IoError, "write", "", io.ErrShortWrite)
			}
		}

		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, newError(IoError, "read", "", rerr)
		}
	}
}
