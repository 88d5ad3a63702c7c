//go:build linux || darwin

package clock

import (
	"golang.org/x/sys/unix"
)

func readClocks() (wall, mono int64, err error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0, 0, err
	}
	mono = ts.Nano()
	if err := unix.ClockGettime(unix.CLOCK_REALTIME, &ts); err != nil {
		return 0, 0, err
	}
	return ts.Nano(), mono, nil
}
