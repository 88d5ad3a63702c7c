package buffer

import (
	"fmt"
	"strings"

	"github.com/DataExMachina-dev/perfcapture-go/internal/framing"
	"github.com/DataExMachina-dev/perfcapture-go/internal/varint"
)

// NewlineCanary is written at the start of a summary so the reader can
// detect newline translation on the transport.
const NewlineCanary = "1\n2\r\n3\r4\n\r5"

// Summary attribute keys.
const (
	AttrUname    = "uname"
	AttrPageSize = "PAGESIZE"
	AttrNoSync   = "nosync"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidMessage, fmt.Sprintf(format, args...))
}

func checkString(field, s string) error {
	if strings.IndexByte(s, 0) >= 0 {
		return invalid("%s contains a NUL byte", field)
	}
	return nil
}

func checkStrings(fields ...string) error {
	for i := 0; i+1 < len(fields); i += 2 {
		if err := checkString(fields[i], fields[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// Summary identifies the capture session. It is the first message of a
// capture.
type Summary struct {
	// Timestamp is the wall clock time in nanoseconds since the epoch.
	Timestamp int64
	// Uptime is the monotonic clock in nanoseconds.
	Uptime int64
	// MonotonicDelta is the monotonic time at which the capture started.
	MonotonicDelta int64
	Uname          string
	PageSize       int64
	NoSync         bool
}

func (Summary) frameKind() framing.FrameKind { return framing.KindSummary }
func (Summary) code() framing.Code           { return framing.CodeSummary }

func (m Summary) validate() error {
	return checkString("uname", m.Uname)
}

func (m Summary) maxLen() int {
	return stringLen(NewlineCanary) + 3*varint.MaxLen64 +
		stringLen(AttrUname) + stringLen(m.Uname) +
		stringLen(AttrPageSize) + maxDecimalLen + 1 +
		stringLen(AttrNoSync) + stringLen("") +
		stringLen("")
}

func (m Summary) encode(e *encoder) {
	e.writeString(NewlineCanary)
	e.packInt64(m.Timestamp)
	e.packInt64(m.Uptime)
	e.packInt64(m.MonotonicDelta)
	e.writeString(AttrUname)
	e.writeString(m.Uname)
	e.writeString(AttrPageSize)
	e.writeDecimal(m.PageSize)
	if m.NoSync {
		e.writeString(AttrNoSync)
		e.writeString("")
	}
	e.writeString("")
}

// CoreName names a core and its CPU id.
type CoreName struct {
	Core  int32
	CPUID int32
	Name  string
}

func (CoreName) frameKind() framing.FrameKind { return framing.KindSummary }
func (CoreName) code() framing.Code           { return framing.CodeCoreName }
func (m CoreName) validate() error            { return checkString("name", m.Name) }
func (m CoreName) maxLen() int                { return 2*varint.MaxLen32 + stringLen(m.Name) }

func (m CoreName) encode(e *encoder) {
	e.packInt32(m.Core)
	e.packInt32(m.CPUID)
	e.writeString(m.Name)
}

// External carries an opaque payload from an external source.
type External struct {
	Payload []byte
}

func (External) frameKind() framing.FrameKind { return framing.KindExternal }
func (External) code() framing.Code           { return framing.CodeExternal }
func (External) validate() error              { return nil }
func (m External) maxLen() int                { return 4 + len(m.Payload) }

func (m External) encode(e *encoder) {
	e.putLE32(uint32(len(m.Payload)))
	e.writeBytes(m.Payload)
}

// PerfAttr carries a raw perf_event_attr and the key it was opened with.
// Attr is copied byte for byte; its own size field must match its length.
type PerfAttr struct {
	Attr []byte
	Key  int32
}

// perfAttrSizeOffset is the offset of perf_event_attr.size.
const perfAttrSizeOffset = 4

func (PerfAttr) frameKind() framing.FrameKind { return framing.KindPerfAttrs }
func (PerfAttr) code() framing.Code           { return framing.CodePerfAttr }

func (m PerfAttr) validate() error {
	if len(m.Attr) < perfAttrSizeOffset+4 {
		return invalid("perf attr is %d bytes", len(m.Attr))
	}
	if size := varint.LE32(m.Attr[perfAttrSizeOffset:]); int(size) != len(m.Attr) {
		return invalid("perf attr size field %d, have %d bytes", size, len(m.Attr))
	}
	return nil
}

func (m PerfAttr) maxLen() int { return len(m.Attr) + varint.MaxLen32 }

func (m PerfAttr) encode(e *encoder) {
	e.writeBytes(m.Attr)
	e.packInt32(m.Key)
}

// Keys maps perf sample ids to counter keys.
type Keys struct {
	IDs  []uint64
	Keys []int32
}

func (Keys) frameKind() framing.FrameKind { return framing.KindPerfAttrs }
func (Keys) code() framing.Code           { return framing.CodeKeys }

func (m Keys) validate() error {
	if len(m.IDs) != len(m.Keys) {
		return invalid("%d ids for %d keys", len(m.IDs), len(m.Keys))
	}
	return nil
}

func (m Keys) maxLen() int {
	return varint.MaxLen32 + len(m.IDs)*(varint.MaxLen64+varint.MaxLen32)
}

func (m Keys) encode(e *encoder) {
	e.packInt32(int32(len(m.IDs)))
	for i, id := range m.IDs {
		e.packInt64(int64(id))
		e.packInt32(m.Keys[i])
	}
}

// KeysOld is the legacy key table: the keys in read order followed by the
// raw read format buffer they index.
type KeysOld struct {
	Keys []int32
	Data []byte
}

func (KeysOld) frameKind() framing.FrameKind { return framing.KindPerfAttrs }
func (KeysOld) code() framing.Code           { return framing.CodeKeysOld }
func (KeysOld) validate() error              { return nil }

func (m KeysOld) maxLen() int {
	return varint.MaxLen32 + len(m.Keys)*varint.MaxLen32 + lenBytesLen(m.Data)
}

func (m KeysOld) encode(e *encoder) {
	e.packInt32(int32(len(m.Keys)))
	for _, k := range m.Keys {
		e.packInt32(k)
	}
	e.writeLenBytes(m.Data)
}

// Format carries a tracepoint format description.
type Format struct {
	Format string
}

func (Format) frameKind() framing.FrameKind { return framing.KindPerfAttrs }
func (Format) code() framing.Code           { return framing.CodeFormat }
func (m Format) validate() error            { return checkString("format", m.Format) }
func (m Format) maxLen() int                { return stringLen(m.Format) }
func (m Format) encode(e *encoder)          { e.writeString(m.Format) }

// Maps carries the memory map of a process.
type Maps struct {
	PID  int32
	TID  int32
	Maps string
}

func (Maps) frameKind() framing.FrameKind { return framing.KindPerfAttrs }
func (Maps) code() framing.Code           { return framing.CodeMaps }
func (m Maps) validate() error            { return checkString("maps", m.Maps) }
func (m Maps) maxLen() int                { return 2*varint.MaxLen32 + stringLen(m.Maps) }

func (m Maps) encode(e *encoder) {
	e.packInt32(m.PID)
	e.packInt32(m.TID)
	e.writeString(m.Maps)
}

// Comm carries the executable image and command name of a thread.
type Comm struct {
	PID   int32
	TID   int32
	Image string
	Comm  string
}

func (Comm) frameKind() framing.FrameKind { return framing.KindPerfAttrs }
func (Comm) code() framing.Code           { return framing.CodeComm }

func (m Comm) validate() error {
	return checkStrings("image", m.Image, "comm", m.Comm)
}

func (m Comm) maxLen() int {
	return 2*varint.MaxLen32 + stringLen(m.Image) + stringLen(m.Comm)
}

func (m Comm) encode(e *encoder) {
	e.packInt32(m.PID)
	e.packInt32(m.TID)
	e.writeString(m.Image)
	e.writeString(m.Comm)
}

// CPUOnline reports a CPU coming online.
type CPUOnline struct {
	CPU int32
}

func (CPUOnline) frameKind() framing.FrameKind { return framing.KindPerfAttrs }
func (CPUOnline) code() framing.Code           { return framing.CodeCPUOnline }
func (CPUOnline) validate() error              { return nil }
func (CPUOnline) maxLen() int                  { return varint.MaxLen32 }
func (m CPUOnline) encode(e *encoder)          { e.packInt32(m.CPU) }

// CPUOffline reports a CPU going offline.
type CPUOffline struct {
	CPU int32
}

func (CPUOffline) frameKind() framing.FrameKind { return framing.KindPerfAttrs }
func (CPUOffline) code() framing.Code           { return framing.CodeCPUOffline }
func (CPUOffline) validate() error              { return nil }
func (CPUOffline) maxLen() int                  { return varint.MaxLen32 }
func (m CPUOffline) encode(e *encoder)          { e.packInt32(m.CPU) }

// Kallsyms carries a chunk of the kernel symbol table.
type Kallsyms struct {
	Kallsyms string
}

func (Kallsyms) frameKind() framing.FrameKind { return framing.KindPerfAttrs }
func (Kallsyms) code() framing.Code           { return framing.CodeKallsyms }
func (m Kallsyms) validate() error            { return checkString("kallsyms", m.Kallsyms) }
func (m Kallsyms) maxLen() int                { return stringLen(m.Kallsyms) }
func (m Kallsyms) encode(e *encoder)          { e.writeString(m.Kallsyms) }

// HeaderPage carries the tracing header_page description.
type HeaderPage struct {
	Text string
}

func (HeaderPage) frameKind() framing.FrameKind { return framing.KindPerfAttrs }
func (HeaderPage) code() framing.Code           { return framing.CodeHeaderPage }
func (m HeaderPage) validate() error            { return checkString("header page", m.Text) }
func (m HeaderPage) maxLen() int                { return stringLen(m.Text) }
func (m HeaderPage) encode(e *encoder)          { e.writeString(m.Text) }

// HeaderEvent carries the tracing header_event description.
type HeaderEvent struct {
	Text string
}

func (HeaderEvent) frameKind() framing.FrameKind { return framing.KindPerfAttrs }
func (HeaderEvent) code() framing.Code           { return framing.CodeHeaderEvent }
func (m HeaderEvent) validate() error            { return checkString("header event", m.Text) }
func (m HeaderEvent) maxLen() int                { return stringLen(m.Text) }
func (m HeaderEvent) encode(e *encoder)          { e.writeString(m.Text) }

// PerfCounterValue is one counter reading.
type PerfCounterValue struct {
	Core  int32
	Key   int32
	Value int64
}

// PerfCounters is a group of counter readings taken at the same time.
type PerfCounters struct {
	Values []PerfCounterValue
}

func (PerfCounters) frameKind() framing.FrameKind { return framing.KindPerf }
func (PerfCounters) code() framing.Code           { return framing.CodePerfCounters }

func (m PerfCounters) validate() error {
	for i, v := range m.Values {
		if v.Core == framing.PerfCounterEnd {
			return invalid("counter %d uses the reserved core %d", i, v.Core)
		}
	}
	return nil
}

func (m PerfCounters) maxLen() int {
	return len(m.Values)*(2*varint.MaxLen32+varint.MaxLen64) + varint.MaxLen32
}

func (m PerfCounters) encode(e *encoder) {
	for _, v := range m.Values {
		e.packInt32(v.Core)
		e.packInt32(v.Key)
		e.packInt64(v.Value)
	}
	e.packInt32(framing.PerfCounterEnd)
}
