// Package sink contains the destinations drained capture bytes are sent to:
// files, dialed sockets, a gRPC stream and a Kafka topic. Every sink
// implements the buffer Sender contract.
package sink

import (
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/minio/highwayhash"

	"github.com/DataExMachina-dev/perfcapture-go/internal/varint"
)

// responseAPCData tags a chunk of capture data in the live envelope.
const responseAPCData = 3

// envelopeLen is the size of the live envelope header: a type byte and an
// LE32 length.
const envelopeLen = 5

// Sink is a closable destination for capture bytes.
type Sink interface {
	WriteData(p []byte) error
	// Written returns the number of capture bytes accepted.
	Written() uint64
	// Sum64 returns the digest of the capture bytes accepted.
	Sum64() uint64
	Close() error
}

var (
	_ Sink = (*File)(nil)
	_ Sink = (*Conn)(nil)
	_ Sink = (*GRPC)(nil)
	_ Sink = (*Kafka)(nil)
)

var hashKey = [32]byte{}

// NewDigest returns the hash used for stream digests.
func NewDigest() hash.Hash64 {
	h, err := highwayhash.New64(hashKey[:])
	if err != nil {
		// Only fails for a key that is not 32 bytes.
		panic(err)
	}
	return h
}

// Option configures a Writer.
type Option interface {
	apply(*writerConfig)
}

type writerConfig struct {
	envelope bool
}

type optionFunc func(cfg *writerConfig)

func (f optionFunc) apply(cfg *writerConfig) {
	f(cfg)
}

// WithEnvelope prefixes every span with the live envelope, so a reader
// attached to a live session can tell capture data from other responses.
func WithEnvelope() Option {
	return optionFunc(func(cfg *writerConfig) {
		cfg.envelope = true
	})
}

// Writer sends drained spans to an io.Writer and keeps a digest of the
// capture bytes it has written. The envelope, if any, is not part of the
// digest.
type Writer struct {
	w        io.Writer
	digest   hash.Hash64
	envelope bool
	hdr      [envelopeLen]byte
	written  uint64
}

// NewWriter returns a Writer over w.
func NewWriter(w io.Writer, opts ...Option) *Writer {
	var cfg writerConfig
	for _, o := range opts {
		o.apply(&cfg)
	}
	return &Writer{
		w:        w,
		digest:   NewDigest(),
		envelope: cfg.envelope,
	}
}

// WriteData implements the buffer Sender contract.
func (w *Writer) WriteData(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if w.envelope {
		w.hdr[0] = responseAPCData
		varint.PutLE32(w.hdr[1:], uint32(len(p)))
		if _, err := w.w.Write(w.hdr[:]); err != nil {
			return fmt.Errorf("failed to write envelope: %w", err)
		}
	}
	if _, err := w.w.Write(p); err != nil {
		return fmt.Errorf("failed to write capture data: %w", err)
	}
	_, _ = w.digest.Write(p)
	w.written += uint64(len(p))
	return nil
}

// Written returns the number of capture bytes written.
func (w *Writer) Written() uint64 {
	return w.written
}

// Sum64 returns the digest of the capture bytes written so far.
func (w *Writer) Sum64() uint64 {
	return w.digest.Sum64()
}

// Unwrap strips the live envelope from r, returning the capture bytes.
func Unwrap(r io.Reader) io.Reader {
	return &unwrapper{r: r}
}

type unwrapper struct {
	r         io.Reader
	remaining uint32
	hdr       [envelopeLen]byte
}

func (u *unwrapper) Read(p []byte) (int, error) {
	for u.remaining == 0 {
		if _, err := io.ReadFull(u.r, u.hdr[:]); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return 0, fmt.Errorf("truncated envelope: %w", err)
			}
			return 0, err
		}
		if u.hdr[0] != responseAPCData {
			return 0, fmt.Errorf("unexpected response type %d", u.hdr[0])
		}
		u.remaining = varint.LE32(u.hdr[1:])
	}
	if uint32(len(p)) > u.remaining {
		p = p[:u.remaining]
	}
	n, err := u.r.Read(p)
	u.remaining -= uint32(n)
	if errors.Is(err, io.EOF) && u.remaining > 0 {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}
