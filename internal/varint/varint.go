// Package varint implements the integer encodings used on the capture wire.
//
// Variable-length integers are signed LEB128: seven bits per byte, least
// significant group first, with the high bit of each byte set when another
// byte follows. The sign is carried by bit 6 of the final group rather than by
// a zig-zag mapping, so this is not interchangeable with encoding/binary's
// Varint. A value needs the same number of bytes whether it is written as a
// 32-bit or a 64-bit quantity.
package varint

import (
	"encoding/binary"
	"math"
)

const (
	// MaxLen32 is the maximum encoded length of a 32-bit value.
	MaxLen32 = 5
	// MaxLen64 is the maximum encoded length of a 64-bit value.
	MaxLen64 = 10
)

// PutInt32 encodes x into buf and returns the number of bytes written. It
// panics if buf is too small; MaxLen32 bytes always suffice.
func PutInt32(buf []byte, x int32) int {
	return PutInt64(buf, int64(x))
}

// PutInt64 encodes x into buf and returns the number of bytes written. It
// panics if buf is too small; MaxLen64 bytes always suffice.
func PutInt64(buf []byte, x int64) int {
	i := 0
	for {
		b := byte(x & 0x7f)
		x >>= 7
		if last(x, b) {
			buf[i] = b
			return i + 1
		}
		buf[i] = b | 0x80
		i++
	}
}

// Len64 returns the number of bytes PutInt64 would write for x.
func Len64(x int64) int {
	n := 1
	for {
		b := byte(x & 0x7f)
		x >>= 7
		if last(x, b) {
			return n
		}
		n++
	}
}

// last reports whether b is the final group once x holds the remaining bits.
func last(x int64, b byte) bool {
	return (x == 0 && b&0x40 == 0) || (x == -1 && b&0x40 != 0)
}

// Int32 decodes a value written by PutInt32 and returns it with the number of
// bytes read. n == 0 means buf ended mid-value; n < 0 means the encoding is
// longer than MaxLen32 or does not fit in 32 bits, and -n bytes were examined.
func Int32(buf []byte) (int32, int) {
	v, n := decode(buf, MaxLen32)
	if n > 0 && (v < math.MinInt32 || v > math.MaxInt32) {
		return 0, -n
	}
	return int32(v), n
}

// Int64 decodes a value written by PutInt64. The n result follows Int32.
func Int64(buf []byte) (int64, int) {
	return decode(buf, MaxLen64)
}

func decode(buf []byte, maxLen int) (int64, int) {
	var x int64
	var shift uint
	for i, b := range buf {
		if i == maxLen {
			return 0, -(i + 1)
		}
		x |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				x |= -1 << shift
			}
			return x, i + 1
		}
	}
	return 0, 0
}

// PutLE32 writes v into buf[0:4] little-endian.
func PutLE32(buf []byte, v uint32) {
	binary.LittleEndian.PutUint32(buf, v)
}

// PutLE64 writes v into buf[0:8] little-endian.
func PutLE64(buf []byte, v uint64) {
	binary.LittleEndian.PutUint64(buf, v)
}

// LE32 reads a little-endian uint32 from buf[0:4].
func LE32(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf)
}

// LE64 reads a little-endian uint64 from buf[0:8].
func LE64(buf []byte) uint64 {
	return binary.LittleEndian.Uint64(buf)
}
