// Package buffer implements the per-stream capture buffer: a ring of framed,
// typed messages written by one producer and drained by one consumer.
//
// The producer marshals messages into the ring and decides when written
// bytes become visible by committing them, either explicitly or through
// Check, which bounds the delivery latency. Committing signals the
// caller-owned data-ready channel. The consumer drains committed bytes into a
// Sender, which frees space and wakes a producer parked on a full ring.
//
// Producer-side methods (Marshal, the Event family, Commit, Check, SetDone)
// must be called from a single goroutine. Consumer-side methods (Drain,
// IsDone) from another single goroutine. Size and statistics accessors may
// be called from anywhere.
package buffer

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DataExMachina-dev/perfcapture-go/internal/framing"
	"github.com/DataExMachina-dev/perfcapture-go/internal/ring"
)

var (
	// ErrDone is returned when marshalling into a buffer after SetDone.
	ErrDone = errors.New("buffer is done")
	// ErrTooLarge is returned for a message that cannot fit in the buffer
	// even when it is empty.
	ErrTooLarge = errors.New("message larger than buffer")
	// ErrInvalidMessage is returned for a message whose fields do not match
	// its wire schema.
	ErrInvalidMessage = errors.New("invalid message")
)

// DefaultCommitInterval is the latency bound used when WithCommitInterval is
// not given.
const DefaultCommitInterval = 100 * time.Millisecond

// Sender receives drained bytes. p is only valid for the duration of the call
// and must not be modified.
type Sender interface {
	WriteData(p []byte) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(p []byte) error

// WriteData calls f(p).
func (f SenderFunc) WriteData(p []byte) error {
	return f(p)
}

// Option configures a Buffer.
type Option interface {
	apply(*config)
}

type config struct {
	commitInterval time.Duration
	logger         *zap.Logger
}

type optionFunc func(cfg *config)

func (f optionFunc) apply(cfg *config) {
	f(cfg)
}

// WithCommitInterval sets the maximum time written bytes may stay unpublished
// while the producer keeps calling Check, and the minimum spacing of
// data-ready signals from unforced commits.
func WithCommitInterval(d time.Duration) Option {
	return optionFunc(func(cfg *config) {
		cfg.commitInterval = d
	})
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(cfg *config) {
		cfg.logger = l
	})
}

// Buffer is the capture buffer of one (core, channel) stream.
type Buffer struct {
	core      int32
	channel   int32
	ring      *ring.Ring
	dataReady chan<- struct{}
	interval  int64
	logger    *zap.Logger

	// Producer state.
	lastCommit int64
	frame      openFrame

	done    atomic.Bool
	dropped atomic.Uint64
	waits   atomic.Uint64
	sent    atomic.Uint64
}

// openFrame tracks the frame currently being filled. The length field lives
// in the uncommitted part of the ring, so it stays writable until the frame
// is closed.
type openFrame struct {
	open   bool
	kind   framing.FrameKind
	length []byte
	size   int
}

// New returns a buffer for the given core and channel with a ring of the
// given capacity. It panics unless capacity is a power of two. dataReady is
// signalled without blocking whenever a commit publishes new bytes; a
// channel with a buffer of one is the expected shape.
func New(core, channel int32, capacity int, dataReady chan<- struct{}, opts ...Option) *Buffer {
	cfg := config{
		commitInterval: DefaultCommitInterval,
		logger:         zap.NewNop(),
	}
	for _, o := range opts {
		o.apply(&cfg)
	}
	return &Buffer{
		core:      core,
		channel:   channel,
		ring:      ring.New(capacity),
		dataReady: dataReady,
		interval:  cfg.commitInterval.Nanoseconds(),
		logger:    cfg.logger.With(zap.Int32("core", core), zap.Int32("channel", channel)),
	}
}

// Core returns the core id the buffer was created for.
func (b *Buffer) Core() int32 { return b.core }

// Channel returns the channel id the buffer was created for.
func (b *Buffer) Channel() int32 { return b.channel }

// Cap returns the ring capacity.
func (b *Buffer) Cap() int { return b.ring.Cap() }

// BytesAvailable returns the free capacity of the ring.
func (b *Buffer) BytesAvailable() int {
	return b.ring.BytesAvailable()
}

// ContiguousSpaceAvailable returns the free bytes that can be written without
// crossing the end of the ring.
func (b *Buffer) ContiguousSpaceAvailable() int {
	return b.ring.ContiguousSpaceAvailable()
}

// HasUncommittedMessages reports whether bytes have been written since the
// last commit.
func (b *Buffer) HasUncommittedMessages() bool {
	return b.ring.HasUncommitted()
}

// Commit publishes every written byte if there are any. The data-ready
// channel is signalled, and the commit time recorded, only when force is set
// or the commit interval has elapsed since the last signalled commit.
func (b *Buffer) Commit(now int64, force bool) {
	if !b.ring.HasUncommitted() {
		return
	}
	b.closeFrame()
	b.ring.Commit()
	if force || now-b.lastCommit >= b.interval {
		b.lastCommit = now
		b.signal()
	}
}

// Check forces a commit if there are unpublished bytes older than the commit
// interval. It never signals when nothing is uncommitted.
func (b *Buffer) Check(now int64) {
	if b.ring.HasUncommitted() && now-b.lastCommit > b.interval {
		b.Commit(now, true)
	}
}

// SetDone latches the buffer as finished. Pending bytes are committed and the
// consumer is signalled so it can perform the final drain. Later marshalling
// calls are rejected.
func (b *Buffer) SetDone() {
	b.done.Store(true)
	b.Commit(b.lastCommit, true)
	b.signal()
}

// IsDone reports whether SetDone has been called and every byte has been
// drained. Once it returns true the consumer should stop draining.
func (b *Buffer) IsDone() bool {
	return b.done.Load() && b.ring.Buffered() == 0
}

// Drain passes the committed bytes to s in at most two spans and frees them.
// It returns the number of bytes s accepted. On a send error, bytes s did not
// accept stay in the buffer.
func (b *Buffer) Drain(s Sender) (int, error) {
	n, err := b.ring.Drain(s.WriteData)
	b.sent.Add(uint64(n))
	if ce := b.logger.Check(zap.DebugLevel, "drained buffer"); ce != nil && n > 0 {
		ce.Write(zap.Int("bytes", n), zap.Int("available", b.ring.BytesAvailable()))
	}
	if err != nil {
		return n, fmt.Errorf("failed to send buffer data: %w", err)
	}
	return n, nil
}

// Close wakes a producer parked waiting for space; its Marshal call returns
// ring.ErrClosed. The buffer must not be written to afterwards.
func (b *Buffer) Close() {
	b.ring.Close()
}

func (b *Buffer) signal() {
	select {
	case b.dataReady <- struct{}{}:
	default:
	}
}

// Stats is a snapshot of a buffer's counters.
type Stats struct {
	Core    int32
	Channel int32
	// Dropped counts sampling-path records discarded for lack of space.
	Dropped uint64
	// Waits counts the times a producer parked waiting for space.
	Waits uint64
	// Sent counts bytes handed to a Sender.
	Sent uint64
	Done bool
	Ring ring.State
}

// Stats returns the buffer's counters.
func (b *Buffer) Stats() Stats {
	return Stats{
		Core:    b.core,
		Channel: b.channel,
		Dropped: b.dropped.Load(),
		Waits:   b.waits.Load(),
		Sent:    b.sent.Load(),
		Done:    b.done.Load(),
		Ring:    b.ring.State(),
	}
}
