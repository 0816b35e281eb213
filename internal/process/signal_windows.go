//go:build windows

package process

import "os"

// terminate ends the process; Windows has no SIGTERM equivalent for arbitrary pids.
func terminate(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
