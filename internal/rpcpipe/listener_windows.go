//go:build windows

package rpcpipe

import (
	"context"
	"net"
	"strings"

	winio "github.com/Microsoft/go-winio"
)

// listen binds a Windows named pipe at path (e.g. \\.\pipe\devtools-host).
// There is no stale-file cleanup on this platform: the OS reclaims the
// pipe name as soon as the owning process exits, which is exactly the
// interval the Role Arbiter's retry loop (internal/arbiter) is built to
// ride out.
func listen(path string) (net.Listener, error) {
	return winio.ListenPipe(path, nil)
}

func isAddrInUse(err error) bool {
	if err == nil {
		return false
	}
	// go-winio surfaces a Windows ERROR_PIPE_BUSY/ERROR_ACCESS_DENIED as a
	// plain *os.PathError wrapping a syscall.Errno; comparing message text
	// is the same workaround winio's own callers use since the underlying
	// errno isn't exported as a sentinel.
	msg := err.Error()
	return strings.Contains(msg, "Access is denied") || strings.Contains(msg, "pipe is busy") ||
		strings.Contains(msg, "already exists")
}

func dialPipe(ctx context.Context, path string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, path)
}
