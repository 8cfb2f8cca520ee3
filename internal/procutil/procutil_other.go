//go:build !unix

package procutil

import (
	"errors"
	"os"
	"os/exec"
)

// Isolate is a no-op on platforms without process groups.
func Isolate(*exec.Cmd) {}

// KillGroup kills the process itself; children are not tracked here.
func KillGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// GroupAlive is unsupported and reports false.
func GroupAlive(int) bool { return false }
