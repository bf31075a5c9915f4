package reclaim

import (
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// maxHolders bounds how many holders are reported for one directory.
const maxHolders = 16

// Holder is a process with a file open beneath a directory being reclaimed.
type Holder struct {
	PID  int32  `json:"pid"`
	Name string `json:"name,omitempty"`
	Path string `json:"path"`
}

// FindHolders scans running processes for open files under dir.
// Errors from individual processes (exited, permission denied) are skipped.
func FindHolders(dir string) []Holder {
	prefix := filepath.Clean(dir) + string(filepath.Separator)
	procs, err := process.Processes()
	if err != nil {
		return nil
	}
	var out []Holder
	for _, p := range procs {
		files, err := p.OpenFiles()
		if err != nil {
			continue
		}
		for _, f := range files {
			if !strings.HasPrefix(f.Path, prefix) {
				continue
			}
			name, _ := p.Name()
			out = append(out, Holder{PID: p.Pid, Name: name, Path: f.Path})
			if len(out) >= maxHolders {
				return out
			}
			break
		}
	}
	return out
}
