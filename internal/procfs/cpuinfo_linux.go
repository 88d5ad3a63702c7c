//go:build linux

package procfs

import (
	"fmt"
	"strconv"
)

// CoreNames returns the model name of every CPU in /proc/cpuinfo. CPUID is
// the family and model packed as family<<8|model, or -1 when unknown.
func (fs *FS) CoreNames() ([]CoreName, error) {
	infos, err := fs.proc.CPUInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to read cpuinfo: %w", err)
	}
	names := make([]CoreName, 0, len(infos))
	for _, info := range infos {
		cpuID := int32(-1)
		family, ferr := strconv.ParseInt(info.CPUFamily, 10, 16)
		model, merr := strconv.ParseInt(info.Model, 10, 16)
		if ferr == nil && merr == nil {
			cpuID = int32(family<<8 | model)
		}
		names = append(names, CoreName{
			CPU:   int32(info.Processor),
			CPUID: cpuID,
			Name:  info.ModelName,
		})
	}
	return names, nil
}
