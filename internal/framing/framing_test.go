package framing

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DataExMachina-dev/perfcapture-go/internal/varint"
)

// buildFrame encodes a frame the way a buffer does: header with a zero
// length, payload, then the length patched in.
func buildFrame(h Header, payload []byte) []byte {
	buf := make([]byte, MaxHeaderLen+len(payload))
	n := PutHeader(buf, h)
	n += copy(buf[n:], payload)
	varint.PutLE32(buf, uint32(n-LengthSize))
	return buf[:n]
}

func TestHeaderRoundTrip(t *testing.T) {
	for _, h := range []Header{
		{Kind: KindSummary, Core: 0, Channel: 0},
		{Kind: KindPerf, Core: 127, Channel: -1},
		{Kind: KindBlockCounter, Core: 1 << 20, Channel: 3},
	} {
		buf := make([]byte, MaxHeaderLen)
		n := PutHeader(buf, h)
		h.Length = uint32(n - LengthSize)
		varint.PutLE32(buf, h.Length)
		got, m, err := ParseHeader(buf[:n])
		require.NoError(t, err)
		require.Equal(t, n, m)
		require.Equal(t, h, got)
	}
}

func TestParseHeaderCorrupt(t *testing.T) {
	_, _, err := ParseHeader([]byte{1, 0})
	require.ErrorIs(t, err, ErrCorrupt)

	// Length claims fewer bytes than the header fields occupy.
	buf := make([]byte, MaxHeaderLen)
	n := PutHeader(buf, Header{Kind: KindExternal, Core: 1000, Channel: 1})
	varint.PutLE32(buf, 1)
	_, _, err = ParseHeader(buf[:n])
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestDecoderArbitrarySplits(t *testing.T) {
	var stream []byte
	stream = append(stream, buildFrame(Header{Kind: KindSummary, Core: 2, Channel: 0}, []byte("abc"))...)
	stream = append(stream, buildFrame(Header{Kind: KindPerfAttrs, Core: 2, Channel: 0}, nil)...)
	stream = append(stream, buildFrame(Header{Kind: KindExternal, Core: 3, Channel: 7}, bytes.Repeat([]byte{9}, 300))...)

	for split := 0; split <= len(stream); split++ {
		d := NewDecoder()
		require.NoError(t, d.WriteData(stream[:split]))
		require.NoError(t, d.WriteData(stream[split:]))
		require.Equal(t, 3, d.Len(), "split at %d", split)
		require.Equal(t, 0, d.Buffered())

		f, ok := d.Next()
		require.True(t, ok)
		require.Equal(t, KindSummary, f.Kind)
		require.Equal(t, int32(2), f.Core)
		require.Equal(t, []byte("abc"), f.Payload)

		f, _ = d.Next()
		require.Equal(t, KindPerfAttrs, f.Kind)
		require.Empty(t, f.Payload)

		f, _ = d.Next()
		require.Equal(t, KindExternal, f.Kind)
		require.Equal(t, int32(7), f.Channel)
		require.Len(t, f.Payload, 300)

		_, ok = d.Next()
		require.False(t, ok)
	}
}

func TestDecoderRejectsOversizedFrame(t *testing.T) {
	d := NewDecoder()
	var buf [4]byte
	varint.PutLE32(buf[:], DefaultMaxFrameLen+1)
	require.ErrorIs(t, d.WriteData(buf[:]), ErrCorrupt)
	require.ErrorIs(t, d.WriteData([]byte{0}), ErrCorrupt, "errors are sticky")
}

func TestDecodeReader(t *testing.T) {
	frame := buildFrame(Header{Kind: KindPerf, Core: 1}, []byte{1, 2, 3})
	var kinds []FrameKind
	err := Decode(bytes.NewReader(append(frame, frame...)), func(f Frame) error {
		kinds = append(kinds, f.Kind)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []FrameKind{KindPerf, KindPerf}, kinds)

	err = Decode(bytes.NewReader(frame[:len(frame)-1]), func(Frame) error { return nil })
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReader(t *testing.T) {
	var buf []byte
	tmp := make([]byte, varint.MaxLen64)
	buf = append(buf, tmp[:varint.PutInt32(tmp, -5)]...)
	buf = append(buf, tmp[:varint.PutInt64(tmp, 1<<40)]...)
	buf = append(buf, "name\x00"...)
	buf = append(buf, tmp[:varint.PutInt32(tmp, 3)]...)
	buf = append(buf, "xyz"...)
	varint.PutLE32(tmp, 0xdeadbeef)
	buf = append(buf, tmp[:4]...)

	r := NewReader(buf)
	require.Equal(t, int32(-5), r.Int32())
	require.Equal(t, int64(1<<40), r.Int64())
	require.Equal(t, "name", r.String())
	require.Equal(t, []byte("xyz"), r.LenBytes())
	require.Equal(t, uint32(0xdeadbeef), r.LE32())
	require.NoError(t, r.Err())
	require.Equal(t, 0, r.Len())

	require.Zero(t, r.LE64())
	require.ErrorIs(t, r.Err(), ErrCorrupt)
	require.Zero(t, r.Int32(), "errors are sticky")
}

func TestNames(t *testing.T) {
	require.Equal(t, "perf-attrs", KindPerfAttrs.String())
	require.Equal(t, "FrameKind(99)", FrameKind(99).String())
	require.Equal(t, "core-name", CodeName(KindSummary, CodeCoreName))
	require.Equal(t, "kallsyms", CodeName(KindPerfAttrs, CodeKallsyms))
	require.Equal(t, "summary/9", CodeName(KindSummary, 9))
}
