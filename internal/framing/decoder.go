package framing

import (
	"errors"
	"fmt"
	"io"

	"github.com/DataExMachina-dev/perfcapture-go/internal/fifo"
	"github.com/DataExMachina-dev/perfcapture-go/internal/varint"
)

// DefaultMaxFrameLen bounds the frame length a Decoder accepts.
const DefaultMaxFrameLen = 64 << 20

// Decoder reassembles frames from a byte stream delivered in arbitrary
// pieces. It implements the buffer Sender contract, so it can be handed the
// spans produced by a drain directly.
type Decoder struct {
	pending     []byte
	frames      fifo.Queue[Frame]
	maxFrameLen int
	err         error
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{maxFrameLen: DefaultMaxFrameLen}
}

// WriteData appends p to the stream and queues every frame it completes. p
// is not retained. Once a corrupt frame is seen every later call fails.
func (d *Decoder) WriteData(p []byte) error {
	if d.err != nil {
		return d.err
	}
	d.pending = append(d.pending, p...)
	off := 0
	for {
		f, n, err := d.parse(d.pending[off:])
		if err != nil {
			d.err = err
			return err
		}
		if n == 0 {
			break
		}
		d.frames.PushBack(f)
		off += n
	}
	if off > 0 {
		d.pending = append(d.pending[:0], d.pending[off:]...)
	}
	return nil
}

// Write implements io.Writer over WriteData.
func (d *Decoder) Write(p []byte) (int, error) {
	if err := d.WriteData(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// parse decodes one frame from the start of buf. n == 0 means more bytes are
// needed.
func (d *Decoder) parse(buf []byte) (Frame, int, error) {
	if len(buf) < LengthSize {
		return Frame{}, 0, nil
	}
	length := int(varint.LE32(buf))
	if length > d.maxFrameLen {
		return Frame{}, 0, fmt.Errorf("%w: frame length %d exceeds %d", ErrCorrupt, length, d.maxFrameLen)
	}
	total := LengthSize + length
	if len(buf) < total {
		return Frame{}, 0, nil
	}
	h, hn, err := ParseHeader(buf[:total])
	if err != nil {
		return Frame{}, 0, err
	}
	payload := make([]byte, total-hn)
	copy(payload, buf[hn:total])
	return Frame{Header: h, Payload: payload}, total, nil
}

// Next pops the oldest complete frame.
func (d *Decoder) Next() (Frame, bool) {
	return d.frames.PopFront()
}

// Len returns the number of complete frames queued.
func (d *Decoder) Len() int {
	return d.frames.Len()
}

// Buffered returns the number of bytes of an incomplete trailing frame.
func (d *Decoder) Buffered() int {
	return len(d.pending)
}

// Decode reads the frame stream from r and calls fn for every frame in
// order. A stream that ends inside a frame is reported as
// io.ErrUnexpectedEOF.
func Decode(r io.Reader, fn func(Frame) error) error {
	d := NewDecoder()
	buf := make([]byte, 32<<10)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if err := d.WriteData(buf[:n]); err != nil {
				return err
			}
			for f, ok := d.Next(); ok; f, ok = d.Next() {
				if err := fn(f); err != nil {
					return err
				}
			}
		}
		if errors.Is(rerr, io.EOF) {
			if d.Buffered() > 0 {
				return fmt.Errorf("%d trailing bytes: %w", d.Buffered(), io.ErrUnexpectedEOF)
			}
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
