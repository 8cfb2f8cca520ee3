//go:build unix

package procutil

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Isolate places the command in its own process group so the whole tree can
// be signalled at once.
func Isolate(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// KillGroup sends SIGKILL to the process group led by pid. A group that has
// already exited is not an error.
func KillGroup(pid int) error {
	return signalGroup(pid, unix.SIGKILL)
}

// GroupAlive reports whether any process of the group led by pid exists.
func GroupAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(-pid, 0) == nil
}

func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	if err := unix.Kill(-pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}
