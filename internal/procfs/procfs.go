// Package procfs reads the process and system descriptions a capture
// records alongside its samples.
package procfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	promfs "github.com/prometheus/procfs"
)

// ErrNotImplemented is returned when a description is not available on the
// current platform.
var ErrNotImplemented = errors.New("not implemented")

// FS reads from a proc and a sys mount.
type FS struct {
	proc     promfs.FS
	procRoot string
	sysRoot  string
}

// NewFS returns an FS rooted at the given proc and sys mount points.
func NewFS(procRoot, sysRoot string) (*FS, error) {
	proc, err := promfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", procRoot, err)
	}
	return &FS{proc: proc, procRoot: procRoot, sysRoot: sysRoot}, nil
}

// Default returns an FS for /proc and /sys.
func Default() (*FS, error) {
	return NewFS(promfs.DefaultMountPoint, "/sys")
}

func (fs *FS) readProc(elem ...string) (string, error) {
	b, err := os.ReadFile(filepath.Join(append([]string{fs.procRoot}, elem...)...))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func taskDir(pid, tid int32) []string {
	p := strconv.Itoa(int(pid))
	if tid == pid || tid == 0 {
		return []string{p}
	}
	return []string{p, "task", strconv.Itoa(int(tid))}
}

// Maps returns the memory map text of a thread.
func (fs *FS) Maps(pid, tid int32) (string, error) {
	maps, err := fs.readProc(append(taskDir(pid, tid), "maps")...)
	if err != nil {
		return "", fmt.Errorf("failed to read maps of %d/%d: %w", pid, tid, err)
	}
	return maps, nil
}

// Comm returns the executable image of a process and the command name of one
// of its threads.
func (fs *FS) Comm(pid, tid int32) (image, comm string, err error) {
	p, err := fs.proc.Proc(int(pid))
	if err != nil {
		return "", "", fmt.Errorf("failed to open process %d: %w", pid, err)
	}
	if image, err = p.Executable(); err != nil {
		return "", "", fmt.Errorf("failed to read image of %d: %w", pid, err)
	}
	if tid != pid && tid != 0 {
		tasks, err := promfs.NewFS(filepath.Join(fs.procRoot, strconv.Itoa(int(pid)), "task"))
		if err != nil {
			return "", "", fmt.Errorf("failed to open tasks of %d: %w", pid, err)
		}
		if p, err = tasks.Proc(int(tid)); err != nil {
			return "", "", fmt.Errorf("failed to open thread %d/%d: %w", pid, tid, err)
		}
	}
	if comm, err = p.Comm(); err != nil {
		return "", "", fmt.Errorf("failed to read comm of %d/%d: %w", pid, tid, err)
	}
	return image, comm, nil
}

// Kallsyms returns the kernel symbol table text.
func (fs *FS) Kallsyms() (string, error) {
	s, err := fs.readProc("kallsyms")
	if err != nil {
		return "", fmt.Errorf("failed to read kallsyms: %w", err)
	}
	return s, nil
}

// OnlineCPUs returns the online CPUs in ascending order.
func (fs *FS) OnlineCPUs() ([]int32, error) {
	b, err := os.ReadFile(filepath.Join(fs.sysRoot, "devices", "system", "cpu", "online"))
	if err != nil {
		return nil, fmt.Errorf("failed to read online cpus: %w", err)
	}
	return parseCPUList(strings.TrimSpace(string(b)))
}

// parseCPUList parses the kernel's cpu list format, e.g. "0-3,5,7-8".
func parseCPUList(s string) ([]int32, error) {
	var cpus []int32
	if s == "" {
		return cpus, nil
	}
	for _, r := range strings.Split(s, ",") {
		lo, hi, isRange := strings.Cut(r, "-")
		first, err := strconv.ParseInt(lo, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid cpu list %q: %w", s, err)
		}
		last := first
		if isRange {
			if last, err = strconv.ParseInt(hi, 10, 32); err != nil {
				return nil, fmt.Errorf("invalid cpu list %q: %w", s, err)
			}
		}
		if last < first {
			return nil, fmt.Errorf("invalid cpu list %q", s)
		}
		for c := first; c <= last; c++ {
			cpus = append(cpus, int32(c))
		}
	}
	slices.Sort(cpus)
	return slices.Compact(cpus), nil
}

// CoreName describes one CPU.
type CoreName struct {
	CPU   int32
	CPUID int32
	Name  string
}

// CPUTimes holds the time a CPU has spent in each mode, in milliseconds.
type CPUTimes struct {
	CPU    int32
	User   int64
	System int64
	Idle   int64
	IOWait int64
}

// CPUTimes returns per-CPU times from /proc/stat, ordered by CPU.
func (fs *FS) CPUTimes() ([]CPUTimes, error) {
	st, err := fs.proc.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to read stat: %w", err)
	}
	times := make([]CPUTimes, 0, len(st.CPU))
	for cpu, cs := range st.CPU {
		times = append(times, CPUTimes{
			CPU:    int32(cpu),
			User:   int64((cs.User + cs.Nice) * 1000),
			System: int64((cs.System + cs.IRQ + cs.SoftIRQ) * 1000),
			Idle:   int64(cs.Idle * 1000),
			IOWait: int64(cs.Iowait * 1000),
		})
	}
	slices.SortFunc(times, func(a, b CPUTimes) int { return int(a.CPU - b.CPU) })
	return times, nil
}

// tracingRoots are the tracefs mount points, relative to the sys root.
var tracingRoots = [][]string{
	{"kernel", "tracing"},
	{"kernel", "debug", "tracing"},
}

// TracingHeader returns the text of the tracing events header file name,
// either "header_page" or "header_event".
func (fs *FS) TracingHeader(name string) (string, error) {
	for _, root := range tracingRoots {
		path := filepath.Join(append(append([]string{fs.sysRoot}, root...), "events", name)...)
		b, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		return string(b), nil
	}
	return "", fmt.Errorf("tracing %s not found: %w", name, os.ErrNotExist)
}

// PageSize returns the memory page size.
func PageSize() int64 {
	return int64(os.Getpagesize())
}
