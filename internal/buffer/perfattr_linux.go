package buffer

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// PerfAttrFromUnix copies attr into a PerfAttr message. A zero or oversized
// attr.Size is replaced by the size of the structure; a smaller one selects
// an older ABI revision and truncates the copy.
func PerfAttrFromUnix(attr *unix.PerfEventAttr, key int32) PerfAttr {
	a := *attr
	full := uint32(unsafe.Sizeof(a))
	if a.Size == 0 || a.Size > full {
		a.Size = full
	}
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&a)), full)
	out := make([]byte, a.Size)
	copy(out, raw)
	return PerfAttr{Attr: out, Key: key}
}
