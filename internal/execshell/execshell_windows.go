//go:build windows

package execshell

import (
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

// terminate kills the process outright: Windows has no SIGTERM equivalent
// the target is guaranteed to handle.
func terminate(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}

// detachedSysProcAttr detaches the child from the controller's console so
// it survives the controller's exit.
func detachedSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: windows.DETACHED_PROCESS | windows.CREATE_NEW_PROCESS_GROUP,
	}
}
