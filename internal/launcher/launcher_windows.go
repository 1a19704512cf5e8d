//go:build windows

package launcher

import (
	"os"
	"syscall"
)

// getSysProcAttr returns platform-specific process attributes for daemon spawning.
// On Windows, we use CREATE_NEW_PROCESS_GROUP to detach from console signals.
func getSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// Windows has no SIGTERM; the graceful path there is the RPC stop call.
func terminate(p *os.Process) error {
	return p.Kill()
}
