//go:build !windows

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

// setDetached puts the spawned Client in its own session so it survives
// this process exiting and isn't delivered signals meant for us.
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// processAlive reports whether pid currently exists, via kill -0
// semantics (signal 0 delivers no signal but still validates the
// target) — used by HealthCheck to confirm the persisted PID is real.
func processAlive(pid int) bool {
	if pid == 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// killTree sends SIGKILL to pid. Unlike Windows' `taskkill /T`, this
// doesn't walk descendants — the editor's own child processes are
// expected to die when their parent does, and anything still alive after
// that is the Process Ledger's concern (internal/ledger), not the
// supervisor's.
func killTree(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGKILL)
}
