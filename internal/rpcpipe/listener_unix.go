//go:build !windows

package rpcpipe

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
	"time"
)

// listen binds a Unix domain socket at path. Unlike a TCP port, a leftover
// socket *file* from a prior, uncleanly-terminated process doesn't make the
// kernel refuse a second bind — so presence of the file is not on its own
// evidence the path is in use. listen first tries to dial the path: a
// successful connect means some process is actively accepting on it, which
// is the real EADDRINUSE condition the Role Arbiter's retry loop branches
// on. A failed dial means the file (if any) is stale and safe to unlink
// before binding.
func listen(path string) (net.Listener, error) {
	if fi, err := os.Stat(path); err == nil && !fi.IsDir() {
		if conn, dialErr := net.DialTimeout("unix", path, 200*time.Millisecond); dialErr == nil {
			conn.Close()
			return nil, syscall.EADDRINUSE
		}
		_ = os.Remove(path)
	}
	return net.Listen("unix", path)
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

func dialPipe(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", path)
}
