//go:build !linux

package procfs

// Uname returns the system description in the form of uname -a.
func Uname() (string, error) {
	return "", ErrNotImplemented
}
