// Package bodybuf materialises a single-read body once so that it can be read again by any number of
// consumers.
package bodybuf

import (
	"bytes"
	"io"
	"net/http"

	"github.com/cockroachdb/errors"
)

// ErrTooLarge is returned when a body exceeds the buffering limit.
var ErrTooLarge = errors.New("body exceeds buffering limit")

// Buffer is an immutable in-memory copy of a body.
type Buffer struct {
	data []byte
}

// FromBytes wraps data without copying it.
func FromBytes(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Read drains r into a Buffer. A limit <= 0 means unlimited.
func Read(r io.Reader, limit int64) (*Buffer, error) {
	if r == nil {
		return &Buffer{}, nil
	}
	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, errors.Wrap(err, "failed to buffer body")
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, errors.Wrapf(ErrTooLarge, "limit %d bytes", limit)
	}
	return &Buffer{data: data}, nil
}

// Bytes returns the buffered content. Callers must not modify it.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

func (b *Buffer) Len() int {
	return len(b.Bytes())
}

// NewReader returns a reader with its own cursor.
func (b *Buffer) NewReader() *bytes.Reader {
	return bytes.NewReader(b.Bytes())
}

// ReadCloser returns a fresh ReadCloser over the content, suitable for http bodies.
func (b *Buffer) ReadCloser() io.ReadCloser {
	return io.NopCloser(b.NewReader())
}

// Wrap buffers rc and returns the buffer together with the body the original consumer should read.
//
// When buffering fails the returned error is non-nil, the buffer is nil and the returned body
// replays whatever was consumed followed by the unread remainder of rc, so nothing is lost.
// On success rc has been closed and the returned body reads from the buffer.
func Wrap(rc io.ReadCloser, limit int64) (*Buffer, io.ReadCloser, error) {
	if rc == nil || rc == http.NoBody {
		return &Buffer{}, rc, nil
	}

	var consumed bytes.Buffer
	src := io.Reader(rc)
	if limit > 0 {
		src = io.LimitReader(rc, limit+1)
	}
	_, err := io.Copy(&consumed, src)
	if err == nil && limit > 0 && int64(consumed.Len()) > limit {
		err = errors.Wrapf(ErrTooLarge, "limit %d bytes", limit)
	}
	if err != nil {
		return nil, &replay{Reader: io.MultiReader(bytes.NewReader(consumed.Bytes()), rc), closer: rc}, err
	}

	_ = rc.Close()
	buf := &Buffer{data: consumed.Bytes()}
	return buf, buf.ReadCloser(), nil
}

// replay serves the already consumed prefix and then the rest of the original stream.
type replay struct {
	io.Reader
	closer io.Closer
}

func (r *replay) Close() error {
	return r.closer.Close()
}
