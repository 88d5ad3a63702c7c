// Package ring implements a single-producer single-consumer byte ring over a
// fixed power-of-two arena.
//
// Three cursors partition the arena: [read, commit) holds bytes the consumer
// may drain, [commit, write) holds bytes the producer has written but not yet
// published, and the rest is free. Cursors are monotonic byte counts; the
// arena offset of a cursor is cursor & mask. Each cursor has exactly one
// writer (read: consumer, commit and write: producer), so no lock is needed.
//
// A reservation is always contiguous in the arena. When the free bytes left
// before the end of the arena are too few, the producer abandons them (a
// skip) and continues at offset zero; Drain never hands skipped bytes out.
package ring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Wait once the ring has been closed.
var ErrClosed = errors.New("ring closed")

// noSkip marks the absence of an outstanding skip. No reachable cursor equals
// it, so range checks against it always fail.
const noSkip = math.MaxUint64

// Ring is a bounded SPSC byte ring. The zero value is not usable; use New.
type Ring struct {
	buf  []byte
	mask uint64

	read   atomic.Uint64
	commit atomic.Uint64
	write  atomic.Uint64
	// skip is the write cursor at which the producer last abandoned the tail
	// of a lap. The skipped bytes run to the end of that lap.
	skip atomic.Uint64

	// spaceReady is signalled by the consumer after freeing space.
	spaceReady chan struct{}
	closed     chan struct{}
	closeOnce  sync.Once
}

// New allocates a ring of the given capacity. It panics unless capacity is a
// positive power of two.
func New(capacity int) *Ring {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic(fmt.Sprintf("ring: capacity %d is not a power of two", capacity))
	}
	r := &Ring{
		buf:        make([]byte, capacity),
		mask:       uint64(capacity - 1),
		spaceReady: make(chan struct{}, 1),
		closed:     make(chan struct{}),
	}
	r.skip.Store(noSkip)
	return r
}

// Cap returns the capacity of the arena in bytes.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Buffered returns the number of bytes between the read and write cursors,
// committed or not, including any skipped tail not yet drained.
func (r *Ring) Buffered() int {
	return int(r.write.Load() - r.read.Load())
}

// BytesAvailable returns the free capacity.
func (r *Ring) BytesAvailable() int {
	return len(r.buf) - r.Buffered()
}

// ContiguousSpaceAvailable returns the free bytes starting at the write
// cursor that do not cross the end of the arena.
func (r *Ring) ContiguousSpaceAvailable() int {
	w := r.write.Load()
	free := len(r.buf) - int(w-r.read.Load())
	return min(free, len(r.buf)-int(w&r.mask))
}

// Uncommitted returns the number of written but unpublished bytes.
func (r *Ring) Uncommitted() int {
	return int(r.write.Load() - r.commit.Load())
}

// HasUncommitted reports whether the commit cursor trails the write cursor.
func (r *Ring) HasUncommitted() bool {
	return r.Uncommitted() != 0
}

// Committed returns the number of published bytes the consumer has not yet
// drained.
func (r *Ring) Committed() int {
	return int(r.commit.Load() - r.read.Load())
}

// TryReserve returns a writable region of exactly n contiguous bytes at the
// write cursor, or false if the ring cannot currently provide one. It never
// blocks. The region becomes part of the stream only once Advance is called;
// bytes that are not advanced over are overwritten by the next reservation.
//
// Producer only.
func (r *Ring) TryReserve(n int) ([]byte, bool) {
	if n <= 0 || n > len(r.buf) {
		return nil, false
	}
	w := r.write.Load()
	free := len(r.buf) - int(w-r.read.Load())
	pos := int(w & r.mask)
	if tail := len(r.buf) - pos; tail < n && free >= tail {
		r.skip.Store(w)
		w += uint64(tail)
		r.write.Store(w)
		free -= tail
		pos = 0
	}
	if free < n || len(r.buf)-pos < n {
		return nil, false
	}
	return r.buf[pos : pos+n : pos+n], true
}

// Advance moves the write cursor over n bytes of the last reservation.
//
// Producer only.
func (r *Ring) Advance(n int) {
	r.write.Store(r.write.Load() + uint64(n))
}

// Commit publishes everything written so far and reports whether the commit
// cursor moved.
//
// Producer only.
func (r *Ring) Commit() bool {
	w := r.write.Load()
	if r.commit.Load() == w {
		return false
	}
	r.commit.Store(w)
	return true
}

// Drain hands the committed, undrained bytes to fn as at most two spans and
// frees them. It returns the number of bytes passed to fn. The spans alias
// the arena and must not be retained after fn returns.
//
// If fn fails the read cursor advances only past spans fn accepted, so the
// remaining bytes are offered again on the next call.
//
// Consumer only.
func (r *Ring) Drain(fn func(p []byte) error) (int, error) {
	rd := r.read.Load()
	c := r.commit.Load()
	if rd == c {
		return 0, nil
	}
	first, second, mid := r.spans(rd, c)
	n := 0
	if len(first) > 0 {
		if err := fn(first); err != nil {
			return 0, err
		}
		n += len(first)
	}
	if len(second) > 0 {
		if err := fn(second); err != nil {
			r.free(mid)
			return n, err
		}
		n += len(second)
	}
	r.free(c)
	return n, nil
}

// spans splits [from, to) into its arena regions, leaving out a skipped tail.
// mid is the cursor at which second begins.
func (r *Ring) spans(from, to uint64) (first, second []byte, mid uint64) {
	lapStart := from &^ r.mask
	lapEnd := lapStart + uint64(len(r.buf))
	end := min(to, lapEnd)
	if s := r.skip.Load(); from <= s && s < end {
		end = s
	}
	first = r.buf[from-lapStart : end-lapStart]
	if to > lapEnd {
		second = r.buf[:to-lapEnd]
	}
	return first, second, lapEnd
}

func (r *Ring) free(to uint64) {
	r.read.Store(to)
	select {
	case r.spaceReady <- struct{}{}:
	default:
	}
}

// Wait parks the producer until the consumer frees space, the ring is
// closed, or ctx is done. A nil return does not guarantee that any particular
// reservation will now succeed.
//
// Producer only.
func (r *Ring) Wait(ctx context.Context) error {
	select {
	case <-r.spaceReady:
		return nil
	case <-r.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close permanently wakes any producer parked in Wait. It is safe to call
// from any goroutine and more than once.
func (r *Ring) Close() {
	r.closeOnce.Do(func() {
		close(r.closed)
	})
}

// State is a snapshot of the ring's cursors for diagnostics.
type State struct {
	Capacity int
	Read     uint64
	Commit   uint64
	Write    uint64
}

// Used returns Write - Read.
func (s State) Used() int {
	return int(s.Write - s.Read)
}

// State returns the current cursors. The loads are individually atomic; the
// snapshot as a whole is only consistent when both sides are quiescent.
func (r *Ring) State() State {
	return State{
		Capacity: len(r.buf),
		Read:     r.read.Load(),
		Commit:   r.commit.Load(),
		Write:    r.write.Load(),
	}
}
