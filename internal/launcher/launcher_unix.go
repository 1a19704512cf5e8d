//go:build unix

package launcher

import (
	"os"
	"syscall"
)

// getSysProcAttr returns platform-specific process attributes for daemon spawning.
// On Unix systems, we use Setpgid so a terminal Ctrl-C aimed at the test
// binary does not reach the daemon before the fixture tears it down.
func getSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}

func terminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
