//go:build !windows

package ledger

import (
	"os"
	"syscall"
)

// probeAlive reports whether pid currently exists, via kill -0 semantics
// (signal 0 delivers no signal but still validates the target).
func probeAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// killPID sends SIGKILL. "No such process" is treated as success by the
// caller (killPID itself just reports the raw outcome).
func killPID(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGKILL)
}

// isNotFound reports whether err represents "the process is already
// gone" rather than a genuine kill failure.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return err == syscall.ESRCH || os.IsNotExist(err)
}
