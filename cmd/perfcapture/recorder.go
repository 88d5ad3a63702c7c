package main

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DataExMachina-dev/perfcapture-go/internal/buffer"
	"github.com/DataExMachina-dev/perfcapture-go/internal/clock"
	"github.com/DataExMachina-dev/perfcapture-go/internal/procfs"
	"github.com/DataExMachina-dev/perfcapture-go/internal/ring"
)

// Counter keys of the CPU time samples. 0 and 1 are the block counter
// timestamp and thread keys.
const (
	keyUser int32 = iota + 2
	keySystem
	keyIdle
	keyIOWait
)

// recorder produces the capture of one core into its buffer.
type recorder struct {
	fs       *procfs.Shared
	clock    *clock.Clock
	cores    []int32
	pids     []int32
	interval time.Duration
	noSync   bool
	logger   *zap.Logger
}

// stopped reports whether err only means that the capture is over.
func stopped(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ring.ErrClosed) ||
		errors.Is(err, buffer.ErrDone)
}

// run records into b until ctx is done, then marks b done. The first
// recorder also writes the capture description.
func (r *recorder) run(ctx context.Context, b *buffer.Buffer, first bool) error {
	defer b.SetDone()
	logger := r.logger.With(zap.Int32("core", b.Core()))

	if first {
		if err := r.describe(ctx, b, logger); err != nil {
			if stopped(err) {
				return nil
			}
			return err
		}
	}
	if err := r.sample(ctx, b); err != nil && !stopped(err) {
		return err
	}
	// The final totals are written even though ctx is done; Run closes the
	// buffer if it stops first.
	if err := r.totals(context.WithoutCancel(ctx), b); err != nil && !stopped(err) {
		return err
	}
	return nil
}

// marshalOptional writes m, logging and skipping messages that cannot fit.
func marshalOptional(ctx context.Context, b *buffer.Buffer, now int64, m buffer.Message, logger *zap.Logger) error {
	err := b.Marshal(ctx, now, m)
	if errors.Is(err, buffer.ErrTooLarge) || errors.Is(err, buffer.ErrInvalidMessage) {
		logger.Warn("skipping message", zap.Error(err))
		return nil
	}
	return err
}

// describe writes the summary, the cores, the kernel and process
// descriptions.
func (r *recorder) describe(ctx context.Context, b *buffer.Buffer, logger *zap.Logger) error {
	now := r.clock.Now()
	uname, err := procfs.Uname()
	if err != nil {
		logger.Warn("failed to read uname", zap.Error(err))
	}
	msgs := []buffer.Message{buffer.Summary{
		Timestamp:      r.clock.Timestamp(),
		Uptime:         r.clock.Uptime(),
		MonotonicDelta: r.clock.MonotonicDelta(),
		Uname:          uname,
		PageSize:       procfs.PageSize(),
		NoSync:         r.noSync,
	}}

	names, err := r.fs.FS().CoreNames()
	if err != nil {
		logger.Warn("failed to read core names", zap.Error(err))
	}
	for _, n := range names {
		msgs = append(msgs, buffer.CoreName{Core: n.CPU, CPUID: n.CPUID, Name: n.Name})
	}
	for _, name := range []string{"header_page", "header_event"} {
		text, err := r.fs.FS().TracingHeader(name)
		if err != nil {
			logger.Debug("tracing header unavailable", zap.String("name", name), zap.Error(err))
			continue
		}
		if name == "header_page" {
			msgs = append(msgs, buffer.HeaderPage{Text: text})
		} else {
			msgs = append(msgs, buffer.HeaderEvent{Text: text})
		}
	}
	if syms, err := r.fs.Kallsyms(); err != nil {
		logger.Warn("failed to read kallsyms", zap.Error(err))
	} else {
		msgs = append(msgs, buffer.Kallsyms{Kallsyms: syms})
	}
	for _, pid := range r.pids {
		maps, err := r.fs.Maps(pid, pid)
		if err != nil {
			logger.Warn("failed to read maps", zap.Int32("pid", pid), zap.Error(err))
			continue
		}
		image, comm, err := r.fs.FS().Comm(pid, pid)
		if err != nil {
			logger.Warn("failed to read comm", zap.Int32("pid", pid), zap.Error(err))
			continue
		}
		msgs = append(msgs,
			buffer.Comm{PID: pid, TID: pid, Image: image, Comm: comm},
			buffer.Maps{PID: pid, TID: pid, Maps: maps},
		)
	}
	for _, core := range r.cores {
		msgs = append(msgs, buffer.CPUOnline{CPU: core})
	}

	for _, m := range msgs {
		if err := marshalOptional(ctx, b, now, m, logger); err != nil {
			return err
		}
	}
	b.Commit(now, true)
	return nil
}

// sample records the core's CPU times on the sampling path every interval.
// Samples are dropped rather than waited for when the buffer is full.
func (r *recorder) sample(ctx context.Context, b *buffer.Buffer) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		now := r.clock.Now()
		t, err := r.cpuTimes(b.Core())
		if err != nil {
			return err
		}
		if b.EventHeader(now) {
			b.Event64(keyUser, t.User)
			b.Event64(keySystem, t.System)
			b.Event64(keyIdle, t.Idle)
			b.Event64(keyIOWait, t.IOWait)
		}
		b.Check(now)
	}
}

// totals writes the core's CPU times as a counter group.
func (r *recorder) totals(ctx context.Context, b *buffer.Buffer) error {
	t, err := r.cpuTimes(b.Core())
	if err != nil {
		return err
	}
	now := r.clock.Now()
	return b.Marshal(ctx, now, buffer.PerfCounters{Values: []buffer.PerfCounterValue{
		{Core: t.CPU, Key: keyUser, Value: t.User},
		{Core: t.CPU, Key: keySystem, Value: t.System},
		{Core: t.CPU, Key: keyIdle, Value: t.Idle},
		{Core: t.CPU, Key: keyIOWait, Value: t.IOWait},
	}})
}

func (r *recorder) cpuTimes(core int32) (procfs.CPUTimes, error) {
	times, err := r.fs.CPUTimes()
	if err != nil {
		return procfs.CPUTimes{}, err
	}
	for _, t := range times {
		if t.CPU == core {
			return t, nil
		}
	}
	return procfs.CPUTimes{CPU: core}, nil
}
