package procfs

import (
	"fmt"

	"golang.org/x/sync/singleflight"
)

// Shared wraps an FS so that concurrent reads of the same file by several
// producers are served by a single read.
type Shared struct {
	fs *FS
	g  singleflight.Group
}

// NewShared returns a Shared over fs.
func NewShared(fs *FS) *Shared {
	return &Shared{fs: fs}
}

// FS returns the underlying FS.
func (s *Shared) FS() *FS { return s.fs }

// Maps is FS.Maps, deduplicated.
func (s *Shared) Maps(pid, tid int32) (string, error) {
	v, err, _ := s.g.Do(fmt.Sprintf("maps/%d/%d", pid, tid), func() (any, error) {
		return s.fs.Maps(pid, tid)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Kallsyms is FS.Kallsyms, deduplicated.
func (s *Shared) Kallsyms() (string, error) {
	v, err, _ := s.g.Do("kallsyms", func() (any, error) {
		return s.fs.Kallsyms()
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// CPUTimes is FS.CPUTimes, deduplicated. The result is shared between
// callers and must not be modified.
func (s *Shared) CPUTimes() ([]CPUTimes, error) {
	v, err, _ := s.g.Do("stat", func() (any, error) {
		return s.fs.CPUTimes()
	})
	if err != nil {
		return nil, err
	}
	return v.([]CPUTimes), nil
}
