//go:build !windows

package process

import "golang.org/x/sys/unix"

// terminate sends SIGTERM to a single process.
func terminate(pid int) error {
	return unix.Kill(pid, unix.SIGTERM)
}
