package buffer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/DataExMachina-dev/perfcapture-go/internal/framing"
	"github.com/DataExMachina-dev/perfcapture-go/internal/varint"
)

// Message is one of the message types of this package. The set is closed.
type Message interface {
	frameKind() framing.FrameKind
	code() framing.Code
	// validate checks the fields against the wire schema.
	validate() error
	// maxLen bounds the encoded size of the fields, excluding code and
	// timestamp.
	maxLen() int
	encode(e *encoder)
}

// messageOverhead is the space reserved on top of a message's fields: a frame
// header in case a frame has to be opened, the code and the timestamp.
const messageOverhead = framing.MaxHeaderLen + varint.MaxLen32 + varint.MaxLen64

// Marshal writes m with timestamp now. If the buffer lacks contiguous space
// it commits what is pending and waits for the consumer to drain, so it may
// block; cancelling ctx abandons the write without leaving any of m behind.
//
// Marshal returns ErrDone after SetDone, ErrTooLarge if m cannot fit in an
// empty buffer, ErrInvalidMessage if m is malformed, ring.ErrClosed if the
// buffer is closed while waiting, or the context's error.
func (b *Buffer) Marshal(ctx context.Context, now int64, m Message) error {
	if b.done.Load() {
		return ErrDone
	}
	if err := m.validate(); err != nil {
		return err
	}
	need := messageOverhead + m.maxLen()
	if need > b.ring.Cap() {
		return fmt.Errorf("%w: %s needs %d bytes, capacity %d",
			ErrTooLarge, framing.CodeName(m.frameKind(), m.code()), need, b.ring.Cap())
	}
	buf, err := b.reserve(ctx, now, m.frameKind(), need)
	if err != nil {
		return err
	}
	e := encoder{buf: buf}
	b.startFrame(&e, m.frameKind())
	e.packInt32(int32(m.code()))
	e.packInt64(now)
	m.encode(&e)
	b.advance(e.n)
	b.Check(now)
	return nil
}

// reserve returns a contiguous region of need bytes, waiting for the
// consumer while the ring is full. Before parking, pending bytes are
// committed and the consumer is signalled about every undrained byte, even
// those an earlier unforced commit published silently.
func (b *Buffer) reserve(ctx context.Context, now int64, kind framing.FrameKind, need int) ([]byte, error) {
	for {
		if buf, ok := b.tryReserve(kind, need); ok {
			return buf, nil
		}
		b.Commit(now, true)
		if b.ring.Committed() > 0 {
			b.lastCommit = now
			b.signal()
		}
		b.waits.Add(1)
		if ce := b.logger.Check(zap.DebugLevel, "buffer full, waiting for drain"); ce != nil {
			ce.Write(
				zap.Int("need", need),
				zap.Int("contiguous", b.ring.ContiguousSpaceAvailable()),
				zap.Int("available", b.ring.BytesAvailable()),
			)
		}
		if err := b.ring.Wait(ctx); err != nil {
			return nil, fmt.Errorf("failed waiting for buffer space: %w", err)
		}
	}
}

// tryReserve returns a region of need bytes without blocking. The open frame
// is closed first if the message belongs to another kind, or if the
// reservation may have to skip the end of the ring, since a frame must be
// contiguous.
func (b *Buffer) tryReserve(kind framing.FrameKind, need int) ([]byte, bool) {
	if b.frame.open && (b.frame.kind != kind || b.ring.ContiguousSpaceAvailable() < need) {
		b.closeFrame()
	}
	return b.ring.TryReserve(need)
}

// startFrame writes a frame header at the start of the reservation unless a
// frame of this kind is already open.
func (b *Buffer) startFrame(e *encoder, kind framing.FrameKind) {
	if b.frame.open {
		return
	}
	n := framing.PutHeader(e.buf, framing.Header{Kind: kind, Core: b.core, Channel: b.channel})
	b.frame = openFrame{
		open:   true,
		kind:   kind,
		length: e.buf[:framing.LengthSize:framing.LengthSize],
	}
	e.n = n
}

func (b *Buffer) advance(n int) {
	b.ring.Advance(n)
	b.frame.size += n
}

// closeFrame patches the open frame's length field.
func (b *Buffer) closeFrame() {
	if !b.frame.open {
		return
	}
	varint.PutLE32(b.frame.length, uint32(b.frame.size-framing.LengthSize))
	b.frame = openFrame{}
}

// eventLen is the space a block counter record may need.
const eventLen = framing.MaxHeaderLen + varint.MaxLen32 + varint.MaxLen64

// EventHeader starts a batch of block counter records with timestamp now. It
// never blocks: false means there was no room and the sample must be dropped.
func (b *Buffer) EventHeader(now int64) bool {
	return b.event(framing.KeyTimestamp, now)
}

// EventTID records the thread the following counters belong to. False means
// the sample must be dropped.
func (b *Buffer) EventTID(tid int32) bool {
	return b.event(framing.KeyTID, int64(tid))
}

// Event records a 32-bit counter value. It is discarded, and counted as
// dropped, if there is no room.
func (b *Buffer) Event(key, value int32) {
	b.event(key, int64(value))
}

// Event64 records a 64-bit counter value. It is discarded, and counted as
// dropped, if there is no room.
func (b *Buffer) Event64(key int32, value int64) {
	b.event(key, value)
}

func (b *Buffer) event(key int32, value int64) bool {
	if b.done.Load() {
		return false
	}
	buf, ok := b.tryReserve(framing.KindBlockCounter, eventLen)
	if !ok {
		b.dropped.Add(1)
		if ce := b.logger.Check(zap.DebugLevel, "dropped block counter record"); ce != nil {
			ce.Write(zap.Int32("key", key), zap.Int("available", b.ring.BytesAvailable()))
		}
		return false
	}
	e := encoder{buf: buf}
	b.startFrame(&e, framing.KindBlockCounter)
	e.packInt32(key)
	e.packInt64(value)
	b.advance(e.n)
	return true
}
