package buffer

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/DataExMachina-dev/perfcapture-go/internal/varint"
)

func TestPerfAttrFromUnix(t *testing.T) {
	attr := unix.PerfEventAttr{
		Type:   unix.PERF_TYPE_HARDWARE,
		Config: unix.PERF_COUNT_HW_CPU_CYCLES,
	}
	m := PerfAttrFromUnix(&attr, 42)
	require.NoError(t, m.validate())
	require.Len(t, m.Attr, int(unsafe.Sizeof(attr)))
	require.Equal(t, uint32(unix.PERF_TYPE_HARDWARE), varint.LE32(m.Attr))
	require.Equal(t, int32(42), m.Key)
	require.Zero(t, attr.Size, "the caller's attr is not modified")

	attr.Size = unix.PERF_ATTR_SIZE_VER0
	m = PerfAttrFromUnix(&attr, 1)
	require.NoError(t, m.validate())
	require.Len(t, m.Attr, unix.PERF_ATTR_SIZE_VER0)
}
