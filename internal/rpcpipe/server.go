package rpcpipe

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/outpostlabs/devtools-core/internal/logger"
)

// ErrAddressInUse is returned by Start when pipePath is already bound by
// another process. The Role Arbiter branches on this specifically.
var ErrAddressInUse = errors.New("rpcpipe: address in use")

// PingMethod is dispatched specially; it is never stored in the Registry.
const PingMethod = "system.ping"

// Server is a newline-delimited JSON-RPC 2.0 server. One Server binds
// exactly one pipe path.
type Server struct {
	registry *Registry

	mu       sync.Mutex
	listener net.Listener
	path     string
	wg       sync.WaitGroup
	closing  atomic.Bool

	metrics *Metrics
}

// NewServer creates a server dispatching into registry. registry may be
// mutated (RegisterHandler/UnregisterHandler) for as long as the server is
// running; lookups take the registry's own lock per call.
func NewServer(registry *Registry) *Server {
	return &Server{registry: registry, metrics: newMetrics()}
}

// RegisterHandler is a convenience wrapper so callers holding a *Server
// don't need to reach into its Registry separately.
func RegisterHandler[P any](s *Server, method string, fn func(ctx context.Context, params P) (any, error)) {
	Register(s.registry, method, fn)
}

// UnregisterHandler removes method.
func (s *Server) UnregisterHandler(method string) {
	s.registry.Unregister(method)
}

// GetSocketPath returns the bound pipe path, or "" if not started.
func (s *Server) GetSocketPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Start binds pipePath and begins accepting connections in the
// background. On Unix-style paths any pre-existing socket file is removed
// best-effort before binding.
func (s *Server) Start(pipePath string) (string, error) {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("rpcpipe: server already started on %s", s.path)
	}
	s.mu.Unlock()

	ln, err := listen(pipePath)
	if err != nil {
		if isAddrInUse(err) {
			return "", ErrAddressInUse
		}
		return "", fmt.Errorf("rpcpipe: bind %s: %w", pipePath, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.path = pipePath
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ln)

	return pipePath, nil
}

// Stop closes the listener. In-flight responses for already-open
// connections are best-effort only — see handleConn.
func (s *Server) Stop() error {
	s.closing.Store(true)
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	if ln == nil {
		return nil
	}
	err := ln.Close()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() {
				return
			}
			logger.Warn("rpcpipe: accept error on %s: %v", s.path, err)
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// connState tracks connection liveness so a handler that outlives a closed
// connection doesn't attempt (and fail loudly over) a write.
type connState struct {
	conn  net.Conn
	alive atomic.Bool
	mu    sync.Mutex // serializes writes; handlers may complete out of order
}

func (c *connState) write(data []byte) {
	if !c.alive.Load() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive.Load() {
		return
	}
	if _, err := c.conn.Write(data); err != nil {
		c.alive.Store(false)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	connID := uuid.NewString()
	cs := &connState{conn: conn}
	cs.alive.Store(true)
	defer func() {
		cs.alive.Store(false)
		_ = conn.Close()
	}()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			trimmed := trimNewline(line)
			if len(trimmedNonWhitespace(trimmed)) > 0 {
				s.dispatchLine(context.Background(), cs, connID, trimmed)
			}
		}
		if err != nil {
			// Connection closed or errored; remaining partial buffer (if
			// any) never completed a line and is discarded.
			return
		}
	}
}

func trimNewline(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\n' {
		b = b[:len(b)-1]
	}
	if len(b) > 0 && b[len(b)-1] == '\r' {
		b = b[:len(b)-1]
	}
	return b
}

func trimmedNonWhitespace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// dispatchLine parses one request line and dispatches it: parse, validate
// the method is non-empty, answer system.ping specially, look up the
// method, validate its params against the registered schema, run the
// handler, and translate the outcome into a Response.
func (s *Server) dispatchLine(ctx context.Context, cs *connState, connID string, line []byte) {
	start := time.Now()
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.metrics.observe("", "parse_error", time.Since(start))
		s.respond(cs, errorResponse(nil, CodeParseError, "Parse error"))
		return
	}

	if req.Method == "" {
		s.metrics.observe("", "invalid_request", time.Since(start))
		s.respond(cs, errorResponse(req.ID, CodeInvalidRequest, "Invalid Request"))
		return
	}

	if req.Method == PingMethod {
		s.metrics.observe(req.Method, "ok", time.Since(start))
		s.respond(cs, resultResponse(req.ID, map[string]any{
			"alive":            true,
			"registeredMethods": s.registry.Methods(),
		}))
		return
	}

	def, ok := s.registry.Lookup(req.Method)
	if !ok {
		s.metrics.observe(req.Method, "not_found", time.Since(start))
		s.respond(cs, errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method)))
		return
	}

	if err := validateParams(def.Schema, req.Params); err != nil {
		s.metrics.observe(req.Method, "invalid_params", time.Since(start))
		s.respond(cs, errorResponse(req.ID, CodeInvalidParams, err.Error()))
		return
	}

	params := req.Params
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}

	result, err := def.Handler(ctx, params)
	if req.ID == nil {
		// A line without an id is a notification: the handler runs and no
		// response is written back.
		if err != nil {
			logger.Error("rpcpipe: notification %s failed on conn %s: %v", req.Method, connID, err)
		}
		s.metrics.observe(req.Method, "notification", time.Since(start))
		return
	}
	if err != nil {
		var perr *paramsError
		if errors.As(err, &perr) {
			s.metrics.observe(req.Method, "invalid_params", time.Since(start))
			s.respond(cs, errorResponse(req.ID, CodeInvalidParams, "Invalid params: "+err.Error()))
			return
		}
		logger.Error("rpcpipe: handler %s failed on conn %s: %v", req.Method, connID, err)
		s.metrics.observe(req.Method, "error", time.Since(start))
		s.respond(cs, errorResponse(req.ID, CodeInternalError, err.Error()))
		return
	}

	s.metrics.observe(req.Method, "ok", time.Since(start))
	s.respond(cs, resultResponse(req.ID, result))
}

func (s *Server) respond(cs *connState, resp *Response) {
	if !cs.alive.Load() {
		logger.Debug("rpcpipe: dropping response for dead connection")
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		logger.Error("rpcpipe: failed to marshal response: %v", err)
		return
	}
	data = append(data, '\n')
	cs.write(data)
}

// SendNotification writes a fire-and-forget JSON object (no id awaited) to
// conn, the shape clientShuttingDown and reconnect notifications use.
func SendNotification(conn net.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = conn.Write(data)
	return err
}
