package sink

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// zstdSuffix selects zstd compression for capture files.
const zstdSuffix = ".zst"

// File is a capture file. Paths ending in .zst are zstd compressed.
type File struct {
	*Writer
	f  *os.File
	bw *bufio.Writer
	zw *zstd.Encoder
}

// Create creates or truncates the capture file at path.
func Create(path string, opts ...Option) (*File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	out := &File{f: f, bw: bufio.NewWriterSize(f, 256<<10)}
	var w io.Writer = out.bw
	if strings.HasSuffix(path, zstdSuffix) {
		zw, err := zstd.NewWriter(out.bw, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		out.zw = zw
		w = zw
	}
	out.Writer = NewWriter(w, opts...)
	return out, nil
}

// Close flushes and closes the file.
func (f *File) Close() error {
	var errs []error
	if f.zw != nil {
		errs = append(errs, f.zw.Close())
	}
	errs = append(errs, f.bw.Flush(), f.f.Close())
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to close capture file: %w", err)
	}
	return nil
}

// Open opens a capture file for reading, decompressing .zst files.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	if !strings.HasSuffix(path, zstdSuffix) {
		return f, nil
	}
	zr, err := zstd.NewReader(bufio.NewReader(f))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &zstdFile{Decoder: zr, f: f}, nil
}

type zstdFile struct {
	*zstd.Decoder
	f *os.File
}

func (z *zstdFile) Close() error {
	z.Decoder.Close()
	return z.f.Close()
}
