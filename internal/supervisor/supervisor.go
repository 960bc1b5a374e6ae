package supervisor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/outpostlabs/devtools-core/internal/logger"
)

// DebugAttacher is the debug-attach contract with the editor's own debug
// subsystem. It is treated as external: this package only calls it in
// the right order at the right times.
type DebugAttacher interface {
	Attach(ctx context.Context, inspectorPort int) error
	Detach(ctx context.Context) error
}

// noopDebugAttacher is used when no DebugAttacher is configured.
type noopDebugAttacher struct{}

func (noopDebugAttacher) Attach(ctx context.Context, inspectorPort int) error { return nil }
func (noopDebugAttacher) Detach(ctx context.Context) error                   { return nil }

// Config wires a Supervisor to one workspace.
type Config struct {
	WorkspaceDir   string
	ExtensionDir   string
	ClientPipePath string // the well-known Client pipe this workspace's Client binds

	Runtime ChildRuntime  // defaults to a localRuntime if nil
	Debug   DebugAttacher // defaults to a no-op

	// OnReconnected is called fire-and-forget after a successful
	// reconnect, so an external MCP server can learn the client came
	// back without polling.
	OnReconnected func()
}

// Supervisor owns the single live Client for a workspace.
type Supervisor struct {
	cfg        Config
	httpClient *http.Client
	breaker    crashBreaker

	mu     sync.Mutex
	handle *Handle

	reconnectMu  sync.Mutex
	reconnecting chan struct{} // non-nil while a reconnect is in flight
}

// New creates a Supervisor. editorBin is only used when cfg.Runtime is
// nil (the default localRuntime backend).
func New(cfg Config, editorBin string) *Supervisor {
	if cfg.Runtime == nil {
		cfg.Runtime = newLocalRuntime(editorBin)
	}
	if cfg.Debug == nil {
		cfg.Debug = noopDebugAttacher{}
	}
	return &Supervisor{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Spawn allocates ports, ensures the user-data dir, launches the Client,
// waits for readiness, discovers the real PID, attaches the debugger,
// and persists the Session Record.
func (s *Supervisor) Spawn(ctx context.Context, opts LaunchOptions) (*SessionRecord, error) {
	if s.breaker.Tripped() {
		return nil, fmt.Errorf("supervisor: crash-loop breaker is tripped, refusing restart until reset")
	}

	cdpPort, inspectorPort, err := allocatePorts()
	if err != nil {
		return nil, err
	}

	userDataDir := userDataDirFor(s.cfg.WorkspaceDir)
	if err := os.MkdirAll(userDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("supervisor: create user-data dir: %w", err)
	}

	spawnCfg := SpawnConfig{
		WorkspaceDir: s.cfg.WorkspaceDir,
		ExtensionDir: s.cfg.ExtensionDir,
		Options:      opts,
	}

	handle, err := s.cfg.Runtime.Spawn(ctx, spawnCfg, cdpPort, inspectorPort, userDataDir)
	if err != nil {
		s.breaker.RecordCrash(time.Now())
		return nil, fmt.Errorf("supervisor: spawn: %w", err)
	}

	if err := waitForReady(ctx, s.httpClient, cdpPort, s.cfg.ClientPipePath); err != nil {
		_ = s.cfg.Runtime.Stop(ctx, handle)
		s.breaker.RecordCrash(time.Now())
		return nil, err
	}

	realPID, err := s.cfg.Runtime.DiscoverPID(ctx, handle)
	if err != nil {
		_ = s.cfg.Runtime.Stop(ctx, handle)
		s.breaker.RecordCrash(time.Now())
		return nil, fmt.Errorf("supervisor: discover real pid: %w", err)
	}
	handle.RealPID = realPID

	if err := waitForInspectorPort(ctx, inspectorPort); err != nil {
		logger.Warn("supervisor: inspector port %d never accepted tcp: %v", inspectorPort, err)
	} else if err := s.cfg.Debug.Attach(ctx, inspectorPort); err != nil {
		logger.Warn("supervisor: debug attach failed: %v", err)
	}

	s.mu.Lock()
	s.handle = handle
	s.mu.Unlock()

	rec := SessionRecord{
		PID:           realPID,
		CDPPort:       cdpPort,
		InspectorPort: inspectorPort,
		ExtensionPath: s.cfg.ExtensionDir,
		SpawnedAt:     time.Now(),
	}
	if err := saveSessionRecord(s.cfg.WorkspaceDir, rec); err != nil {
		return nil, err
	}

	logger.Info("supervisor: client ready pid=%d cdpPort=%d inspectorPort=%d", realPID, cdpPort, inspectorPort)
	return &rec, nil
}

// Reconnect waits for CDP and the pipe to come back up after a reload,
// re-discovers the PID, re-attaches the debugger, and updates the
// Session Record. Concurrent callers coalesce onto a single in-flight
// attempt.
func (s *Supervisor) Reconnect(ctx context.Context) error {
	s.reconnectMu.Lock()
	if s.reconnecting != nil {
		done := s.reconnecting
		s.reconnectMu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	s.reconnecting = done
	s.reconnectMu.Unlock()

	defer func() {
		s.reconnectMu.Lock()
		s.reconnecting = nil
		s.reconnectMu.Unlock()
		close(done)
	}()

	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()
	if handle == nil {
		return fmt.Errorf("supervisor: reconnect with no active client")
	}

	if err := waitForReconnect(ctx, s.httpClient, handle.CDPPort, s.cfg.ClientPipePath); err != nil {
		return err
	}

	realPID, err := s.cfg.Runtime.DiscoverPID(ctx, handle)
	if err != nil {
		return fmt.Errorf("supervisor: reconnect discover pid: %w", err)
	}

	_ = s.cfg.Debug.Detach(ctx)
	if err := s.cfg.Debug.Attach(ctx, handle.InspectorPort); err != nil {
		logger.Warn("supervisor: reconnect debug re-attach failed: %v", err)
	}

	s.mu.Lock()
	handle.RealPID = realPID
	s.mu.Unlock()

	rec := SessionRecord{
		PID:           realPID,
		CDPPort:       handle.CDPPort,
		InspectorPort: handle.InspectorPort,
		ExtensionPath: s.cfg.ExtensionDir,
		SpawnedAt:     time.Now(),
	}
	if err := saveSessionRecord(s.cfg.WorkspaceDir, rec); err != nil {
		return err
	}

	if s.cfg.OnReconnected != nil {
		go s.cfg.OnReconnected()
	}

	logger.Info("supervisor: reconnected pid=%d", realPID)
	return nil
}

// Teardown stops the debug session, kills the real PID then the
// launcher PID, clears in-memory state, and deletes the Session Record.
// Kill errors are swallowed — best effort.
func (s *Supervisor) Teardown(ctx context.Context) error {
	s.mu.Lock()
	handle := s.handle
	s.handle = nil
	s.mu.Unlock()

	_ = s.cfg.Debug.Detach(ctx)

	if handle != nil {
		if err := s.cfg.Runtime.Stop(ctx, handle); err != nil {
			logger.Debug("supervisor: teardown stop: %v", err)
		}
	}

	return clearSessionRecord(s.cfg.WorkspaceDir)
}

// HealthCheck reports a Client healthy iff CDP answers, the pipe
// answers a real ping, and the persisted PID is alive. Used by
// mcpReady to decide reconnect-to-existing vs spawn-new.
func (s *Supervisor) HealthCheck(ctx context.Context) bool {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()
	if handle == nil {
		return false
	}

	if !cdpAlive(ctx, s.httpClient, handle.CDPPort) {
		return false
	}
	if !pipeAlive(ctx, s.cfg.ClientPipePath) {
		return false
	}
	return processAlive(handle.RealPID)
}

// EnsureReady is the mcpReady handler's decision tree: if a healthy
// Client already exists and forceRestart isn't set, return its current
// Session Record; otherwise tear down whatever is there, wait for the
// Client pipe name to be released, and spawn fresh.
func (s *Supervisor) EnsureReady(ctx context.Context, opts LaunchOptions, forceRestart bool) (*SessionRecord, error) {
	if !forceRestart && s.HealthCheck(ctx) {
		if rec, err := loadSessionRecord(s.cfg.WorkspaceDir); err == nil && rec != nil {
			return rec, nil
		}
	}

	if err := s.Teardown(ctx); err != nil {
		logger.Debug("supervisor: ensure-ready teardown: %v", err)
	}

	if err := waitForPipeRelease(ctx, s.cfg.ClientPipePath); err != nil {
		logger.Warn("supervisor: client pipe not released within timeout, spawning anyway: %v", err)
	}

	return s.Spawn(ctx, opts)
}

// waitForPipeRelease polls every 300ms for up to 5s for pipePath to stop
// accepting connections.
func waitForPipeRelease(ctx context.Context, pipePath string) error {
	deadline := time.Now().Add(5 * time.Second)
	for {
		probeCtx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		alive := pipeAlive(probeCtx, pipePath)
		cancel()
		if !alive {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("supervisor: client pipe still held after 5s")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(300 * time.Millisecond):
		}
	}
}

// WaitForPipeRelease waits for this Supervisor's Client pipe name to
// stop accepting connections, the step the Hot-Reload Coordinator's
// extension path (hotreload.ClientRestarter) takes between Teardown and
// Spawn.
func (s *Supervisor) WaitForPipeRelease(ctx context.Context) error {
	return waitForPipeRelease(ctx, s.cfg.ClientPipePath)
}

// ResetBreaker explicitly clears the crash-loop circuit breaker.
func (s *Supervisor) ResetBreaker() {
	s.breaker.Reset()
}

// BreakerStatus reports the crash-loop circuit breaker's current state:
// whether it is tripped, and how many crashes landed within the active
// 60-second window.
func (s *Supervisor) BreakerStatus() (open bool, crashesInWindow int) {
	return s.breaker.Tripped(), s.breaker.CrashesInWindow(time.Now())
}

// CurrentHandle returns the active Handle, or nil.
func (s *Supervisor) CurrentHandle() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// waitForInspectorPort polls until port accepts a bare TCP connection.
func waitForInspectorPort(ctx context.Context, port int) error {
	deadline := time.Now().Add(10 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("supervisor: inspector port %d never accepted tcp: %w", port, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}
