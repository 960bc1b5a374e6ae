package hotreload

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/outpostlabs/devtools-core/internal/logger"
	"github.com/outpostlabs/devtools-core/internal/schedule"
	"github.com/outpostlabs/devtools-core/internal/statusbarrier"
)

// Config wires a Coordinator to one workspace's two packages.
type Config struct {
	ExtDir string
	MCPDir string

	// ExtBuildScript/MCPBuildScript default to "build" when empty.
	ExtBuildScript string
	MCPBuildScript string

	Store    HashStore
	Notifier Notifier
	Editor   EditorCommands
	Client   ClientRestarter
	Barrier  *statusbarrier.Barrier

	// StalenessSweepCron defaults to every 10 minutes when empty.
	StalenessSweepCron string

	// BuildFunc overrides the package-manager build shell-out; nil
	// defaults to runBuild. Tests substitute a fake here instead of
	// invoking a real pnpm/yarn/npm binary.
	BuildFunc func(ctx context.Context, pkgDir, script string) (buildError string, err error)
}

// Coordinator runs change detection, incremental build, and the
// four-phase per-batch restart orchestration.
type Coordinator struct {
	cfg Config

	bridgeMu sync.Mutex
	bridge   *progressBridge

	restartMu      sync.Mutex
	restartPending chan struct{} // non-nil while a readyToRestart is in flight

	cronID  cron.EntryID
	cronJob *cron.Cron
}

// New creates a Coordinator. Script names default to "build".
func New(cfg Config) *Coordinator {
	if cfg.ExtBuildScript == "" {
		cfg.ExtBuildScript = "build"
	}
	if cfg.MCPBuildScript == "" {
		cfg.MCPBuildScript = "build"
	}
	if cfg.StalenessSweepCron == "" {
		cfg.StalenessSweepCron = "*/10 * * * *"
	}
	if cfg.BuildFunc == nil {
		cfg.BuildFunc = runBuild
	}
	return &Coordinator{cfg: cfg}
}

// CheckForChanges is the per-batch entry point: detect, then (for each
// changed package) rebuild, and for the extension additionally restart
// the Client. checkForChanges with no source edits is a pure read: no
// builds, no restarts.
func (c *Coordinator) CheckForChanges(ctx context.Context) (*CheckResult, error) {
	extHash, extChanged, err := c.detect(RoleExt, c.cfg.ExtDir)
	if err != nil {
		return nil, fmt.Errorf("hotreload: detect ext: %w", err)
	}
	mcpHash, mcpChanged, err := c.detect(RoleMCP, c.cfg.MCPDir)
	if err != nil {
		return nil, fmt.Errorf("hotreload: detect mcp: %w", err)
	}

	result := &CheckResult{
		Ext: PackageChange{Changed: extChanged},
		MCP: PackageChange{Changed: mcpChanged},
	}
	if !extChanged && !mcpChanged {
		return result, nil
	}

	var wg sync.WaitGroup
	if extChanged {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runExtPath(ctx, extHash, result)
		}()
	}
	if mcpChanged {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runMCPPath(ctx, mcpHash, result)
		}()
	}
	wg.Wait()

	return result, nil
}

// detect computes pkgDir's current content hash and compares it to the
// stored one for role. A failed-to-commit hash from a prior failed build
// means the next detect still reports changed, per invariant 3.
func (c *Coordinator) detect(role PackageRole, pkgDir string) (currentHash string, changed bool, err error) {
	currentHash, err = computePackageHash(pkgDir)
	if err != nil {
		return "", false, err
	}
	stored, ok, err := c.cfg.Store.GetHash(string(role))
	if err != nil {
		return "", false, err
	}
	return currentHash, !ok || stored != currentHash, nil
}

// runExtPath rebuilds, then restarts the Client, reporting progress
// through Rebuilding... -> Stopping client window... -> Launching
// client window... -> Client reconnected.
func (c *Coordinator) runExtPath(ctx context.Context, newHash string, result *CheckResult) {
	progress := c.cfg.Notifier.StartProgress("Extension")
	defer progress.Close()

	progress.Report("Rebuilding…")
	buildErr, err := c.cfg.BuildFunc(ctx, c.cfg.ExtDir, c.cfg.ExtBuildScript)
	if err != nil {
		logger.Error("hotreload: ext build infrastructure error: %v", err)
		result.Ext.BuildError = strPtr(err.Error())
		return
	}
	if buildErr != "" {
		result.Ext.BuildError = strPtr(buildErr)
		return
	}
	result.Ext.Rebuilt = true
	if err := c.cfg.Store.SetHash(string(RoleExt), newHash); err != nil {
		logger.Error("hotreload: commit ext hash: %v", err)
	}

	progress.Report("Stopping client window…")
	if err := c.cfg.Client.Teardown(ctx); err != nil {
		logger.Warn("hotreload: stop client: %v", err)
	}
	if err := c.cfg.Client.WaitForPipeRelease(ctx); err != nil {
		logger.Warn("hotreload: client pipe release: %v", err)
	}

	progress.Report("Launching client window…")
	cdpPort, spawnedAt, err := c.cfg.Client.Spawn(ctx)
	if err != nil {
		result.Ext.BuildError = strPtr(fmt.Sprintf("client respawn failed: %v", err))
		return
	}

	result.ClientRestarted = true
	result.CDPPort = cdpPort
	result.ClientStartedAt = spawnedAt
	progress.Report("Client reconnected ✅")
}

// runMCPPath rebuilds, then arms the Status Barrier and keeps the
// progress notification open via a progress bridge for the later
// readyToRestart call to drive.
func (c *Coordinator) runMCPPath(ctx context.Context, newHash string, result *CheckResult) {
	progress := c.cfg.Notifier.StartProgress("MCP Server")

	progress.Report("Rebuilding…")
	buildErr, err := c.cfg.BuildFunc(ctx, c.cfg.MCPDir, c.cfg.MCPBuildScript)
	if err != nil {
		logger.Error("hotreload: mcp build infrastructure error: %v", err)
		result.MCP.BuildError = strPtr(err.Error())
		progress.Close()
		return
	}
	if buildErr != "" {
		result.MCP.BuildError = strPtr(buildErr)
		progress.Close()
		return
	}
	result.MCP.Rebuilt = true
	if err := c.cfg.Store.SetHash(string(RoleMCP), newHash); err != nil {
		logger.Error("hotreload: commit mcp hash: %v", err)
	}

	progress.Report("Rebuilt ✓ — restarting…")

	c.cfg.Barrier.ExpectRestart()

	c.bridgeMu.Lock()
	c.bridge = newProgressBridge(progress)
	c.bridgeMu.Unlock()
}

// ReadyToRestart is the separate RPC of the same name, called by the
// outgoing MCP process after it has drained its own request queue. It
// stops the old server, clears the tool cache, starts the new one, and
// resolves the progress bridge. The Status Barrier stays armed until the
// new server calls McpReady. A concurrency guard
// coalesces overlapping calls onto the first's in-flight result.
func (c *Coordinator) ReadyToRestart(ctx context.Context) error {
	c.restartMu.Lock()
	if c.restartPending != nil {
		done := c.restartPending
		c.restartMu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	c.restartPending = done
	c.restartMu.Unlock()

	defer func() {
		c.restartMu.Lock()
		c.restartPending = nil
		c.restartMu.Unlock()
		close(done)
	}()

	c.bridgeMu.Lock()
	bridge := c.bridge
	c.bridge = nil
	c.bridgeMu.Unlock()

	report := func(string) {}
	resolve := func(string) {}
	if bridge != nil {
		report = bridge.report
		resolve = bridge.resolve
	}

	report("Stopping…")
	if err := c.cfg.Editor.StopMCPServer(ctx); err != nil {
		resolve("")
		return fmt.Errorf("hotreload: stop mcp server: %w", err)
	}

	report("Clearing tool cache…")
	if err := c.cfg.Editor.ClearToolCache(ctx); err != nil {
		logger.Warn("hotreload: clear tool cache: %v", err)
	}

	report("Starting…")
	if err := c.cfg.Editor.StartMCPServer(ctx); err != nil {
		resolve("")
		return fmt.Errorf("hotreload: start mcp server: %w", err)
	}

	resolve("✅ Restarted")
	return nil
}

// McpReady is called by the new MCP server process once it is up.
// Resolves the Status Barrier so any mcpStatus waiters pass through.
func (c *Coordinator) McpReady() {
	c.cfg.Barrier.SignalReady()
}

// StartStalenessSweep runs a low-frequency background job that re-runs
// detection only, logging drift without ever triggering a build or
// restart on its own.
func (c *Coordinator) StartStalenessSweep(ctx context.Context) error {
	if c.cfg.StalenessSweepCron == "" {
		return nil
	}
	if err := schedule.ValidateCron(c.cfg.StalenessSweepCron); err != nil {
		return fmt.Errorf("hotreload: %w", err)
	}
	c.cronJob = cron.New()
	id, err := c.cronJob.AddFunc(c.cfg.StalenessSweepCron, c.sweepOnce)
	if err != nil {
		return fmt.Errorf("hotreload: invalid staleness sweep cron %q: %w", c.cfg.StalenessSweepCron, err)
	}
	c.cronID = id
	c.cronJob.Start()
	return nil
}

// StopStalenessSweep stops the background cron job, if running.
func (c *Coordinator) StopStalenessSweep() {
	if c.cronJob != nil {
		c.cronJob.Stop()
	}
}

func (c *Coordinator) sweepOnce() {
	_, extChanged, err := c.detect(RoleExt, c.cfg.ExtDir)
	if err != nil {
		logger.Warn("hotreload: staleness sweep ext detect: %v", err)
	} else if extChanged {
		logger.Info("hotreload: staleness sweep: extension has unbuilt changes")
	}

	_, mcpChanged, err := c.detect(RoleMCP, c.cfg.MCPDir)
	if err != nil {
		logger.Warn("hotreload: staleness sweep mcp detect: %v", err)
	} else if mcpChanged {
		logger.Info("hotreload: staleness sweep: mcp server has unbuilt changes")
	}
}

func strPtr(s string) *string { return &s }
