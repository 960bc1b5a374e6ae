package rpcpipe

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
)

// Client is a minimal caller for a Server's pipe: dial, send one request
// line, read one response line. It exists for internal callers — the
// supervisor's readiness and health probes — that need to speak the wire
// protocol without standing up a full Registry of their own.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
	next int
}

// Dial connects to pipePath. Callers must Close when done.
func Dial(ctx context.Context, pipePath string) (*Client, error) {
	conn, err := dialPipe(ctx, pipePath)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

// Call sends method/params and returns the decoded result, or an error
// wrapping the RPC error message if the peer answered with one.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	c.next++
	var raw json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("rpcpipe: marshal params: %w", err)
		}
		raw = encoded
	}

	req := Request{JSONRPC: "2.0", ID: c.next, Method: method, Params: raw}
	line, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("rpcpipe: marshal request: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	}

	if _, err := c.conn.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("rpcpipe: write request: %w", err)
	}

	respLine, err := c.r.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("rpcpipe: read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(respLine, &resp); err != nil {
		return fmt.Errorf("rpcpipe: decode response: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("rpcpipe: %s (code %d)", resp.Error.Message, resp.Error.Code)
	}
	if result == nil {
		return nil
	}

	encoded, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("rpcpipe: re-marshal result: %w", err)
	}
	return json.Unmarshal(encoded, result)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// PingResult is the shape system.ping answers with.
type PingResult struct {
	Alive            bool     `json:"alive"`
	RegisteredMethods []string `json:"registeredMethods"`
}

// Ping dials pipePath, calls system.ping, and closes the connection. It
// is the building block of internal/supervisor's readiness and health
// probes.
func Ping(ctx context.Context, pipePath string) (*PingResult, error) {
	c, err := Dial(ctx, pipePath)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var result PingResult
	if err := c.Call(ctx, PingMethod, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
