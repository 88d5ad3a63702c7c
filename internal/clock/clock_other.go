//go:build !linux && !darwin

package clock

func readClocks() (wall, mono int64, err error) {
	return 0, 0, ErrNotImplemented
}
