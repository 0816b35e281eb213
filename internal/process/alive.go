package process

import (
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Alive reports whether pid refers to an existing, non-zombie process.
// It is used to reconcile pids persisted by a previous run.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExists(int32(pid))
	if err != nil || !ok {
		return false
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	st, err := p.Status()
	if err != nil {
		return true
	}
	for _, s := range st {
		if s == gopsproc.Zombie {
			return false
		}
	}
	return true
}
