//go:build !windows

package execshell

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// terminate sends the graceful stop signal. Escalation to SIGKILL happens
// via exec.Cmd.WaitDelay after the grace period.
func terminate(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Signal(unix.SIGTERM)
}

// detachedSysProcAttr puts the child in its own session so it is not
// reaped with the controller's process group.
func detachedSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
