package buffer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DataExMachina-dev/perfcapture-go/internal/framing"
)

func TestMessageLayouts(t *testing.T) {
	attr := make([]byte, 64)
	attr[4] = 64
	attr[0] = 2

	for _, tc := range []struct {
		name string
		msg  Message
		read func(r *framing.Reader) Message
	}{
		{
			name: "core name",
			msg:  CoreName{Core: 1, CPUID: 0xd03, Name: "Cortex-A53"},
			read: func(r *framing.Reader) Message {
				return CoreName{Core: r.Int32(), CPUID: r.Int32(), Name: r.String()}
			},
		},
		{
			name: "external",
			msg:  External{Payload: []byte{0, 1, 2, 0xff}},
			read: func(r *framing.Reader) Message {
				return External{Payload: r.Bytes(int(r.LE32()))}
			},
		},
		{
			name: "perf attr",
			msg:  PerfAttr{Attr: attr, Key: -7},
			read: func(r *framing.Reader) Message {
				return PerfAttr{Attr: r.Bytes(64), Key: r.Int32()}
			},
		},
		{
			name: "keys",
			msg:  Keys{IDs: []uint64{1, 1 << 63, 300}, Keys: []int32{5, 6, 7}},
			read: func(r *framing.Reader) Message {
				var m Keys
				for n := r.Int32(); n > 0; n-- {
					m.IDs = append(m.IDs, uint64(r.Int64()))
					m.Keys = append(m.Keys, r.Int32())
				}
				return m
			},
		},
		{
			name: "keys old",
			msg:  KeysOld{Keys: []int32{9, 10}, Data: []byte("read format")},
			read: func(r *framing.Reader) Message {
				var m KeysOld
				for n := r.Int32(); n > 0; n-- {
					m.Keys = append(m.Keys, r.Int32())
				}
				m.Data = r.LenBytes()
				return m
			},
		},
		{
			name: "format",
			msg:  Format{Format: "name: sched_switch\nID: 316\n"},
			read: func(r *framing.Reader) Message { return Format{Format: r.String()} },
		},
		{
			name: "maps",
			msg:  Maps{PID: 100, TID: 101, Maps: "7f00-7f10 r-xp libc.so\n"},
			read: func(r *framing.Reader) Message {
				return Maps{PID: r.Int32(), TID: r.Int32(), Maps: r.String()}
			},
		},
		{
			name: "comm",
			msg:  Comm{PID: 100, TID: 102, Image: "/usr/bin/app", Comm: "worker"},
			read: func(r *framing.Reader) Message {
				return Comm{PID: r.Int32(), TID: r.Int32(), Image: r.String(), Comm: r.String()}
			},
		},
		{
			name: "cpu online",
			msg:  CPUOnline{CPU: 3},
			read: func(r *framing.Reader) Message { return CPUOnline{CPU: r.Int32()} },
		},
		{
			name: "cpu offline",
			msg:  CPUOffline{CPU: 3},
			read: func(r *framing.Reader) Message { return CPUOffline{CPU: r.Int32()} },
		},
		{
			name: "kallsyms",
			msg:  Kallsyms{Kallsyms: "ffffffff81000000 T _stext\n"},
			read: func(r *framing.Reader) Message { return Kallsyms{Kallsyms: r.String()} },
		},
		{
			name: "header page",
			msg:  HeaderPage{Text: "field: u64 timestamp;"},
			read: func(r *framing.Reader) Message { return HeaderPage{Text: r.String()} },
		},
		{
			name: "header event",
			msg:  HeaderEvent{Text: "type_len : 5 bits"},
			read: func(r *framing.Reader) Message { return HeaderEvent{Text: r.String()} },
		},
		{
			name: "perf counters",
			msg: PerfCounters{Values: []PerfCounterValue{
				{Core: 0, Key: 4, Value: 1 << 40},
				{Core: 1, Key: 4, Value: -3},
			}},
			read: func(r *framing.Reader) Message {
				var m PerfCounters
				for core := r.Int32(); core != framing.PerfCounterEnd && r.Err() == nil; core = r.Int32() {
					m.Values = append(m.Values, PerfCounterValue{Core: core, Key: r.Int32(), Value: r.Int64()})
				}
				return m
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b, _ := newTestBuffer(t, 1024)
			require.NoError(t, b.Marshal(context.Background(), 77, tc.msg))
			b.Commit(77, true)

			frames := drainFrames(t, b)
			require.Len(t, frames, 1)
			require.Equal(t, tc.msg.frameKind(), frames[0].Kind)

			r := frames[0].Messages()
			require.Equal(t, int32(tc.msg.code()), r.Int32())
			require.Equal(t, int64(77), r.Int64())
			require.Equal(t, tc.msg, tc.read(r))
			require.NoError(t, r.Err())
			require.Zero(t, r.Len())
		})
	}
}

func TestMaxLenBoundsEncoding(t *testing.T) {
	for _, m := range []Message{
		Summary{Timestamp: -1, Uptime: 1 << 62, MonotonicDelta: -1 << 62, Uname: "x", PageSize: -1 << 63, NoSync: true},
		Keys{IDs: []uint64{1<<64 - 1}, Keys: []int32{-1 << 31}},
		PerfCounters{Values: []PerfCounterValue{{Core: 1<<31 - 1, Key: -1 << 31, Value: -1 << 63}}},
		KeysOld{Keys: []int32{-1 << 31}, Data: make([]byte, 200)},
	} {
		e := encoder{buf: make([]byte, m.maxLen())}
		m.encode(&e)
		require.LessOrEqual(t, e.n, m.maxLen(), "%T", m)
	}
}
