//go:build !windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in its own process group so terminal
// signals aimed at the supervisor are not delivered to modules directly, and
// applies the resolved identity. A missing half of the identity keeps the
// supervisor's own id.
func configureSysProcAttr(cmd *exec.Cmd, id identity) {
	attrs := &syscall.SysProcAttr{Setpgid: true}
	if id.hasUID || id.hasGID {
		cred := &syscall.Credential{
			Uid:         uint32(os.Getuid()),
			Gid:         uint32(os.Getgid()),
			NoSetGroups: true,
		}
		if id.hasUID {
			cred.Uid = id.uid
		}
		if id.hasGID {
			cred.Gid = id.gid
		}
		attrs.Credential = cred
	}
	cmd.SysProcAttr = attrs
}
