// Package clock reads the monotonic and wall clocks that capture timestamps
// are based on.
package clock

import (
	"errors"
	"time"
)

// ErrNotImplemented is returned when the clocks are not implemented for the
// current platform.
var ErrNotImplemented = errors.New("not implemented")

// BootTime returns the approximate boot time of the system. The idea
// is that this timestamp can be used with readings of the monotonic clock
// to get a wall clock time.
func BootTime() (time.Time, error) {
	wall, mono, err := readClocks()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, wall-mono), nil
}

// Monotonic returns the monotonic clock in nanoseconds.
func Monotonic() (int64, error) {
	_, mono, err := readClocks()
	return mono, err
}

// Clock measures capture time: nanoseconds since the session started.
type Clock struct {
	wallStart int64
	monoStart int64
}

// New starts a clock at the current instant.
func New() (*Clock, error) {
	wall, mono, err := readClocks()
	if err != nil {
		return nil, err
	}
	return &Clock{wallStart: wall, monoStart: mono}, nil
}

// Now returns nanoseconds since the clock started.
func (c *Clock) Now() int64 {
	_, mono, err := readClocks()
	if err != nil {
		return 0
	}
	return mono - c.monoStart
}

// Timestamp returns the wall clock at start in nanoseconds since the epoch.
func (c *Clock) Timestamp() int64 { return c.wallStart }

// Uptime returns the monotonic clock at start, the time since boot.
func (c *Clock) Uptime() int64 { return c.monoStart }

// MonotonicDelta returns the monotonic clock value that corresponds to capture
// time zero.
func (c *Clock) MonotonicDelta() int64 { return c.monoStart }
