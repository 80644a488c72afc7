//go:build unix

package tunnel

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureProcessGroup starts the tunnel in its own process group so that
// helpers it forks are killed with it.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	err := unix.Kill(-pid, unix.SIGKILL)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	// group kill refused, try the leader alone
	if perr := unix.Kill(pid, unix.SIGKILL); perr != nil && !errors.Is(perr, unix.ESRCH) {
		return perr
	}
	return nil
}
