package supervisor

import (
	"fmt"
	"net"
)

// allocatePorts opens two ephemeral loopback listeners just long enough
// to capture the ports the OS assigned them, then releases them — the
// spawn procedure hands these ports to the Client on its command line a
// moment later. There's an inherent
// TOCTOU gap between release and the Client's own bind; it's the same
// gap every "reserve an ephemeral port" recipe has and the readiness
// probe is what actually confirms the Client took it.
func allocatePorts() (cdpPort, inspectorPort int, err error) {
	cdpPort, err = allocatePort()
	if err != nil {
		return 0, 0, err
	}
	inspectorPort, err = allocatePort()
	if err != nil {
		return 0, 0, err
	}
	return cdpPort, inspectorPort, nil
}

func allocatePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("supervisor: allocate port: %w", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
