//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

const createNewProcessGroup = 0x00000200

// configureSysProcAttr creates a new process group. Identity switching is not
// supported on Windows and is ignored.
func configureSysProcAttr(cmd *exec.Cmd, _ identity) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}
