package framing

import (
	"bytes"
	"fmt"

	"github.com/DataExMachina-dev/perfcapture-go/internal/varint"
)

// Reader decodes the fields of frame payloads. The first decoding error is
// sticky: later calls return zero values and Err reports it.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader returns a Reader over buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Err returns the first decoding error.
func (r *Reader) Err() error {
	return r.err
}

// Offset returns the number of bytes consumed.
func (r *Reader) Offset() int {
	return r.off
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.buf) - r.off
}

func (r *Reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: at offset %d: %s", ErrCorrupt, r.off, fmt.Sprintf(format, args...))
	}
}

// Int32 reads a varint that must fit in 32 bits.
func (r *Reader) Int32() int32 {
	if r.err != nil {
		return 0
	}
	v, n := varint.Int32(r.buf[r.off:])
	if n <= 0 {
		r.fail("bad int32 varint")
		return 0
	}
	r.off += n
	return v
}

// Int64 reads a varint.
func (r *Reader) Int64() int64 {
	if r.err != nil {
		return 0
	}
	v, n := varint.Int64(r.buf[r.off:])
	if n <= 0 {
		r.fail("bad int64 varint")
		return 0
	}
	r.off += n
	return v
}

// String reads a NUL-terminated string.
func (r *Reader) String() string {
	if r.err != nil {
		return ""
	}
	i := bytes.IndexByte(r.buf[r.off:], 0)
	if i < 0 {
		r.fail("unterminated string")
		return ""
	}
	s := string(r.buf[r.off : r.off+i])
	r.off += i + 1
	return s
}

// Bytes reads n raw bytes. The result aliases the payload.
func (r *Reader) Bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > r.Len() {
		r.fail("want %d bytes, have %d", n, r.Len())
		return nil
	}
	b := r.buf[r.off : r.off+n : r.off+n]
	r.off += n
	return b
}

// LenBytes reads an int32 varint length followed by that many bytes.
func (r *Reader) LenBytes() []byte {
	return r.Bytes(int(r.Int32()))
}

// LE32 reads a little-endian uint32.
func (r *Reader) LE32() uint32 {
	b := r.Bytes(4)
	if b == nil {
		return 0
	}
	return varint.LE32(b)
}

// LE64 reads a little-endian uint64.
func (r *Reader) LE64() uint64 {
	b := r.Bytes(8)
	if b == nil {
		return 0
	}
	return varint.LE64(b)
}
