// Command devtools-mcpshim is the thin external-MCP-side process
// (the "Shim") that gives an MCP-speaking agent three tools —
// mcpReady, readyToRestart, mcpStatus — each a forwarding call onto
// the Host pipe. It holds no state of its own: the Host owns the
// Supervisor, the Hot-Reload Coordinator, and the Status Barrier this
// shim's tools front.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/outpostlabs/devtools-core/internal/arbiter"
	"github.com/outpostlabs/devtools-core/internal/rpcpipe"
)

func main() {
	hostPipeFlag := flag.String("host-pipe", "", "Host pipe path override (default: the well-known Host pipe)")
	flag.Parse()

	hostPipe := *hostPipeFlag
	if hostPipe == "" {
		hostPipe = arbiter.HostPipePath()
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "devtools-mcpshim",
		Version: "0.1.0",
	}, &mcp.ServerOptions{
		HasTools: true,
	})

	shim := &shim{hostPipe: hostPipe}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mcpReady",
		Description: "Ensures a healthy editor client exists for this workspace, spawning or reconnecting as needed.",
	}, shim.handleMcpReady)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "readyToRestart",
		Description: "Called once this MCP server process has drained its request queue and is ready to be replaced by a rebuilt one.",
	}, shim.handleReadyToRestart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mcpStatus",
		Description: "Blocks (up to timeoutMs, default 60000) until any pending MCP server restart has completed.",
	}, shim.handleMcpStatus)

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		fmt.Fprintf(os.Stderr, "devtools-mcpshim: server error: %v\n", err)
		os.Exit(1)
	}
}

// shim dials the Host pipe fresh for each tool call: calls are
// infrequent (interactive, agent-paced) and a short-lived connection
// survives the Host itself being mid-restart far better than a
// connection held open across a hot reload would.
type shim struct {
	hostPipe string
}

func (s *shim) call(ctx context.Context, method string, params, result any) error {
	client, err := rpcpipe.Dial(ctx, s.hostPipe)
	if err != nil {
		return fmt.Errorf("devtools-mcpshim: dial host pipe: %w", err)
	}
	defer client.Close()
	return client.Call(ctx, method, params, result)
}

type McpReadyInput struct {
	ForceRestart bool `json:"forceRestart,omitempty" jsonschema:"restart the client even if a healthy one already exists"`
}

type McpReadyOutput struct {
	CDPPort         int       `json:"cdpPort"`
	UserDataDir     string    `json:"userDataDir"`
	ClientStartedAt time.Time `json:"clientStartedAt"`
}

func (s *shim) handleMcpReady(ctx context.Context, req *mcp.CallToolRequest, input McpReadyInput) (*mcp.CallToolResult, any, error) {
	var out McpReadyOutput
	if err := s.call(ctx, "mcpReady", input, &out); err != nil {
		return nil, McpReadyOutput{}, err
	}
	return nil, out, nil
}

type ReadyToRestartInput struct{}

type ReadyToRestartOutput struct {
	OK bool `json:"ok"`
}

func (s *shim) handleReadyToRestart(ctx context.Context, req *mcp.CallToolRequest, input ReadyToRestartInput) (*mcp.CallToolResult, any, error) {
	var out ReadyToRestartOutput
	if err := s.call(ctx, "readyToRestart", input, &out); err != nil {
		return nil, ReadyToRestartOutput{}, err
	}
	return nil, out, nil
}

type McpStatusInput struct {
	TimeoutMs int `json:"timeoutMs,omitempty" jsonschema:"how long to wait for a pending restart to resolve, default 60000"`
}

type McpStatusOutput struct {
	Ready bool `json:"ready"`
}

func (s *shim) handleMcpStatus(ctx context.Context, req *mcp.CallToolRequest, input McpStatusInput) (*mcp.CallToolResult, any, error) {
	if input.TimeoutMs <= 0 {
		input.TimeoutMs = 60000
	}
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(input.TimeoutMs)*time.Millisecond+5*time.Second)
	defer cancel()

	var out McpStatusOutput
	if err := s.call(callCtx, "mcpStatus", input, &out); err != nil {
		return nil, McpStatusOutput{}, err
	}
	return nil, out, nil
}
