// Package arbiter decides, for a freshly launched process, whether it is
// acting as the Host or the Client by racing to bind the two well-known
// pipe names. See internal/rpcpipe for the server it hands the winning
// path to.
package arbiter

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	hostPipeName   = "vscode-devtools-host"
	clientPipeName = "vscode-devtools-client"
	mcpPipePrefix  = "vscode-devtools-mcp"
)

// HostPipePath returns the platform-specific path (or name) for the Host
// pipe.
func HostPipePath() string {
	return pipePath(hostPipeName)
}

// ClientPipePath returns the platform-specific path (or name) for the
// Client pipe.
func ClientPipePath() string {
	return pipePath(clientPipeName)
}

// McpPipePath returns the per-workspace MCP control pipe path (section 6
// of the wire protocol). On Windows the pipe name ends in the first 8 hex
// digits of SHA-256 of the lowercased workspace absolute path; elsewhere
// it is a socket file under the workspace's own .vscode directory.
func McpPipePath(workspaceDir string) string {
	abs, err := filepath.Abs(workspaceDir)
	if err != nil {
		abs = workspaceDir
	}
	sum := sha256.Sum256([]byte(strings.ToLower(abs)))
	suffix := hex.EncodeToString(sum[:])[:8]

	if runtime.GOOS == "windows" {
		return `\\.\pipe\` + mcpPipePrefix + "-" + suffix
	}
	return filepath.Join(abs, ".vscode", mcpPipePrefix+".sock")
}

func pipePath(name string) string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\` + name
	}
	return filepath.Join("/tmp", name+".sock")
}
