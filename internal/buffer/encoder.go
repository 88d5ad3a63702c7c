package buffer

import (
	"strconv"

	"github.com/DataExMachina-dev/perfcapture-go/internal/varint"
)

// encoder packs fields into a reserved region of the ring. The region is
// sized from the message's maxLen, so writes never check bounds themselves.
type encoder struct {
	buf []byte
	n   int
}

func (e *encoder) packInt32(x int32) {
	e.n += varint.PutInt32(e.buf[e.n:], x)
}

func (e *encoder) packInt64(x int64) {
	e.n += varint.PutInt64(e.buf[e.n:], x)
}

func (e *encoder) writeBytes(p []byte) {
	e.n += copy(e.buf[e.n:], p)
}

// writeLenBytes writes len(p) as a varint followed by p.
func (e *encoder) writeLenBytes(p []byte) {
	e.packInt32(int32(len(p)))
	e.writeBytes(p)
}

// writeString writes s followed by a NUL.
func (e *encoder) writeString(s string) {
	e.n += copy(e.buf[e.n:], s)
	e.buf[e.n] = 0
	e.n++
}

// writeDecimal writes v in base 10 followed by a NUL.
func (e *encoder) writeDecimal(v int64) {
	e.n += len(strconv.AppendInt(e.buf[e.n:e.n], v, 10))
	e.buf[e.n] = 0
	e.n++
}

func (e *encoder) putLE32(v uint32) {
	varint.PutLE32(e.buf[e.n:], v)
	e.n += 4
}

// stringLen is the encoded size of a NUL-terminated string.
func stringLen(s string) int {
	return len(s) + 1
}

// lenBytesLen is the maximum encoded size of a length-prefixed byte slice.
func lenBytesLen(p []byte) int {
	return varint.MaxLen32 + len(p)
}

// maxDecimalLen is the longest base 10 rendering of an int64.
const maxDecimalLen = len("-9223372036854775808")
