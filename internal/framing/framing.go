// Package framing defines the frame layout of the capture byte stream.
//
// A frame is a little-endian 32-bit length (counting the bytes that follow
// it), the varint frame kind, the varint core and the varint channel, then
// one or more messages of that kind. Each message begins with its varint code
// and a varint timestamp in nanoseconds.
package framing

import (
	"errors"
	"fmt"

	"github.com/DataExMachina-dev/perfcapture-go/internal/varint"
)

// ErrCorrupt is returned when a frame or message cannot be decoded.
var ErrCorrupt = errors.New("corrupt frame")

// FrameKind identifies the family of messages a frame carries.
type FrameKind int32

const (
	KindSummary      FrameKind = 1
	KindBlockCounter FrameKind = 5
	KindExternal     FrameKind = 10
	KindPerfAttrs    FrameKind = 11
	KindPerf         FrameKind = 12
)

func (k FrameKind) String() string {
	switch k {
	case KindSummary:
		return "summary"
	case KindBlockCounter:
		return "block-counter"
	case KindExternal:
		return "external"
	case KindPerfAttrs:
		return "perf-attrs"
	case KindPerf:
		return "perf"
	default:
		return fmt.Sprintf("FrameKind(%d)", int32(k))
	}
}

// Code identifies a message within its frame kind. Codes are only unique
// within a kind.
type Code int32

// Summary frame codes.
const (
	CodeSummary  Code = 1
	CodeCoreName Code = 3
)

// External frame codes.
const (
	CodeExternal Code = 1
)

// PerfAttrs frame codes.
const (
	CodePerfAttr    Code = 1
	CodeKeys        Code = 2
	CodeFormat      Code = 3
	CodeMaps        Code = 4
	CodeComm        Code = 5
	CodeKeysOld     Code = 6
	CodeCPUOnline   Code = 7
	CodeCPUOffline  Code = 8
	CodeKallsyms    Code = 9
	CodeHeaderPage  Code = 11
	CodeHeaderEvent Code = 12
)

// Perf frame codes.
const (
	CodePerfCounters Code = 10
)

// Block counter keys with a fixed meaning. All other keys are counter ids.
const (
	KeyTimestamp int32 = 0
	KeyTID       int32 = 1
)

// PerfCounterEnd terminates the (core, key, value) triples of a
// CodePerfCounters message.
const PerfCounterEnd int32 = -1

var codeNames = map[FrameKind]map[Code]string{
	KindSummary: {
		CodeSummary:  "summary",
		CodeCoreName: "core-name",
	},
	KindExternal: {
		CodeExternal: "external",
	},
	KindPerfAttrs: {
		CodePerfAttr:    "pea",
		CodeKeys:        "keys",
		CodeFormat:      "format",
		CodeMaps:        "maps",
		CodeComm:        "comm",
		CodeKeysOld:     "keys-old",
		CodeCPUOnline:   "online-cpu",
		CodeCPUOffline:  "offline-cpu",
		CodeKallsyms:    "kallsyms",
		CodeHeaderPage:  "header-page",
		CodeHeaderEvent: "header-event",
	},
	KindPerf: {
		CodePerfCounters: "counters",
	},
}

// CodeName returns a readable name for code within frames of kind k.
func CodeName(k FrameKind, c Code) string {
	if name, ok := codeNames[k][c]; ok {
		return name
	}
	return fmt.Sprintf("%v/%d", k, int32(c))
}

const (
	// LengthSize is the size of the length field that starts every frame.
	LengthSize = 4
	// MaxHeaderLen bounds the encoded size of a frame header.
	MaxHeaderLen = LengthSize + 3*varint.MaxLen32
)

// Header is the fixed part of a frame.
type Header struct {
	// Length counts the bytes after the length field, header fields
	// included.
	Length  uint32
	Kind    FrameKind
	Core    int32
	Channel int32
}

// PutHeader encodes h into buf and returns the number of bytes written. buf
// must hold MaxHeaderLen bytes. The length field is written as h.Length; a
// writer that does not know the length yet patches buf[:LengthSize] later.
func PutHeader(buf []byte, h Header) int {
	varint.PutLE32(buf, h.Length)
	n := LengthSize
	n += varint.PutInt32(buf[n:], int32(h.Kind))
	n += varint.PutInt32(buf[n:], h.Core)
	n += varint.PutInt32(buf[n:], h.Channel)
	return n
}

// ParseHeader decodes a frame header from the start of buf. It returns the
// header and its encoded size, or ErrCorrupt.
func ParseHeader(buf []byte) (Header, int, error) {
	if len(buf) < LengthSize {
		return Header{}, 0, fmt.Errorf("%w: short length field", ErrCorrupt)
	}
	h := Header{Length: varint.LE32(buf)}
	r := NewReader(buf[LengthSize:])
	h.Kind = FrameKind(r.Int32())
	h.Core = r.Int32()
	h.Channel = r.Int32()
	if err := r.Err(); err != nil {
		return Header{}, 0, fmt.Errorf("frame header: %w", err)
	}
	n := LengthSize + r.Offset()
	if uint64(h.Length) < uint64(n-LengthSize) {
		return Header{}, 0, fmt.Errorf("%w: length %d shorter than header", ErrCorrupt, h.Length)
	}
	return h, n, nil
}

// Frame is a decoded frame. Payload holds the frame's messages.
type Frame struct {
	Header
	Payload []byte
}

// Messages returns a reader over the frame's messages.
func (f Frame) Messages() *Reader {
	return NewReader(f.Payload)
}
