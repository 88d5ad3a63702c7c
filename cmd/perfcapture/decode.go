package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DataExMachina-dev/perfcapture-go/internal/buffer"
	"github.com/DataExMachina-dev/perfcapture-go/internal/framing"
	"github.com/DataExMachina-dev/perfcapture-go/internal/sink"
	"github.com/DataExMachina-dev/perfcapture-go/internal/varint"
)

func newDecodeCmd() *cobra.Command {
	var envelope, messages bool
	cmd := &cobra.Command{
		Use:   "decode FILE",
		Short: "Print the frames of a capture file (- reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return decode(cmd.OutOrStdout(), cmd.InOrStdin(), args[0], envelope, messages)
		},
	}
	cmd.Flags().BoolVar(&envelope, "envelope", false, "the capture was recorded with live envelopes")
	cmd.Flags().BoolVarP(&messages, "messages", "m", false, "print every message")
	return cmd
}

func decode(w io.Writer, stdin io.Reader, path string, envelope, messages bool) error {
	r := stdin
	if path != "-" {
		f, err := sink.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	if envelope {
		r = sink.Unwrap(r)
	}

	bw := bufio.NewWriter(w)
	var frames, bytes int
	err := framing.Decode(bufio.NewReader(r), func(f framing.Frame) error {
		frames++
		bytes += framing.LengthSize + int(f.Length)
		fmt.Fprintf(bw, "%s core=%d channel=%d length=%d\n", f.Kind, f.Core, f.Channel, f.Length)
		if messages {
			return describeFrame(bw, f)
		}
		return nil
	})
	fmt.Fprintf(bw, "%d frames, %d bytes\n", frames, bytes)
	if err != nil {
		err = fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if flushErr := bw.Flush(); flushErr != nil {
		err = errors.Join(err, fmt.Errorf("failed to write output: %w", flushErr))
	}
	return err
}

// describeFrame prints one line per message of f.
func describeFrame(w io.Writer, f framing.Frame) error {
	r := f.Messages()
	for r.Len() > 0 {
		if f.Kind == framing.KindBlockCounter {
			key := r.Int32()
			value := r.Int64()
			if r.Err() == nil {
				fmt.Fprintf(w, "  counter key=%d value=%d\n", key, value)
			}
		} else {
			code := framing.Code(r.Int32())
			now := r.Int64()
			text := describeMessage(f.Kind, code, r)
			if r.Err() == nil {
				fmt.Fprintf(w, "  %s t=%d %s\n", framing.CodeName(f.Kind, code), now, text)
			}
		}
		if err := r.Err(); err != nil {
			return fmt.Errorf("frame at core %d: %w", f.Core, err)
		}
	}
	return nil
}

// describeMessage consumes the fields of one message from r and returns them
// as text. Messages of unknown layout fail r.
func describeMessage(kind framing.FrameKind, code framing.Code, r *framing.Reader) string {
	switch kind {
	case framing.KindSummary:
		switch code {
		case framing.CodeSummary:
			canary := r.String()
			ts, uptime, delta := r.Int64(), r.Int64(), r.Int64()
			var attrs []string
			for r.Err() == nil {
				k := r.String()
				if k == "" {
					break
				}
				attrs = append(attrs, fmt.Sprintf("%s=%q", k, r.String()))
			}
			s := fmt.Sprintf("timestamp=%d uptime=%d monotonic-delta=%d %s",
				ts, uptime, delta, strings.Join(attrs, " "))
			if canary != buffer.NewlineCanary {
				s += " (newlines were translated)"
			}
			return s
		case framing.CodeCoreName:
			core, cpuid := r.Int32(), r.Int32()
			return fmt.Sprintf("core=%d cpuid=%#x name=%q", core, cpuid, r.String())
		}
	case framing.KindExternal:
		if code == framing.CodeExternal {
			n := r.LE32()
			r.Bytes(int(n))
			return fmt.Sprintf("%d bytes", n)
		}
	case framing.KindPerfAttrs:
		switch code {
		case framing.CodePerfAttr:
			head := r.Bytes(8)
			if r.Err() != nil {
				return ""
			}
			size := int(varint.LE32(head[4:]))
			r.Bytes(size - len(head))
			return fmt.Sprintf("type=%d size=%d key=%d", varint.LE32(head), size, r.Int32())
		case framing.CodeKeys:
			n := r.Int32()
			for i := int32(0); i < n && r.Err() == nil; i++ {
				r.Int64()
				r.Int32()
			}
			return fmt.Sprintf("count=%d", n)
		case framing.CodeKeysOld:
			n := r.Int32()
			for i := int32(0); i < n && r.Err() == nil; i++ {
				r.Int32()
			}
			return fmt.Sprintf("count=%d data=%d bytes", n, len(r.LenBytes()))
		case framing.CodeFormat:
			return fmt.Sprintf("%d bytes", len(r.String()))
		case framing.CodeMaps:
			pid, tid := r.Int32(), r.Int32()
			return fmt.Sprintf("pid=%d tid=%d %d bytes", pid, tid, len(r.String()))
		case framing.CodeComm:
			pid, tid := r.Int32(), r.Int32()
			image := r.String()
			return fmt.Sprintf("pid=%d tid=%d image=%q comm=%q", pid, tid, image, r.String())
		case framing.CodeCPUOnline, framing.CodeCPUOffline:
			return fmt.Sprintf("cpu=%d", r.Int32())
		case framing.CodeKallsyms, framing.CodeHeaderPage, framing.CodeHeaderEvent:
			return fmt.Sprintf("%d bytes", len(r.String()))
		}
	case framing.KindPerf:
		if code == framing.CodePerfCounters {
			var values []string
			for r.Err() == nil {
				core := r.Int32()
				if core == framing.PerfCounterEnd {
					break
				}
				key := r.Int32()
				values = append(values, fmt.Sprintf("%d/%d=%d", core, key, r.Int64()))
			}
			return strings.Join(values, " ")
		}
	}
	r.Bytes(r.Len() + 1)
	return ""
}
