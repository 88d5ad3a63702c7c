//go:build !linux

package procfs

// CoreNames returns the model name of every CPU.
func (fs *FS) CoreNames() ([]CoreName, error) {
	return nil, ErrNotImplemented
}
