// Command devtools-host is the single binary that becomes either the
// Host or the Client for a workspace, depending on which pipe it wins
// at startup (internal/arbiter). It is launched once per editor window;
// whichever instance loses the Host-pipe race becomes the Client that
// the winning Host supervises.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/outpostlabs/devtools-core/internal/arbiter"
	"github.com/outpostlabs/devtools-core/internal/childruntime"
	"github.com/outpostlabs/devtools-core/internal/childruntime/docker"
	"github.com/outpostlabs/devtools-core/internal/cleanup"
	"github.com/outpostlabs/devtools-core/internal/config"
	"github.com/outpostlabs/devtools-core/internal/hotreload"
	"github.com/outpostlabs/devtools-core/internal/ledger"
	"github.com/outpostlabs/devtools-core/internal/logger"
	"github.com/outpostlabs/devtools-core/internal/rpcpipe"
	"github.com/outpostlabs/devtools-core/internal/statusbarrier"
	"github.com/outpostlabs/devtools-core/internal/supervisor"
	"github.com/outpostlabs/devtools-core/internal/validation"
)

func main() {
	workspaceFlag := flag.String("workspace", "", "workspace directory (default: current directory)")
	editorFlag := flag.String("editor", "", "editor binary override")
	containerizedFlag := flag.Bool("containerized", false, "run the client inside a container")
	metricsAddrFlag := flag.String("metrics-addr", "127.0.0.1:9469", "address to serve /metrics on (empty disables)")
	flag.Parse()

	workspaceDir := *workspaceFlag
	if workspaceDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "devtools-host: %v\n", err)
			os.Exit(1)
		}
		workspaceDir = wd
	}
	abs, err := filepath.Abs(workspaceDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devtools-host: %v\n", err)
		os.Exit(1)
	}
	workspaceDir = abs

	flagOverrides := config.FileConfig{
		Editor: config.EditorConfig{
			Binary:        *editorFlag,
			Containerized: *containerizedFlag,
		},
	}

	loaded, err := config.Load(workspaceDir, flagOverrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devtools-host: load config: %v\n", err)
		os.Exit(1)
	}
	if err := loaded.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "devtools-host: %v\n", err)
		os.Exit(1)
	}

	devtoolsDir := filepath.Join(workspaceDir, ".devtools")
	if err := os.MkdirAll(devtoolsDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "devtools-host: create %s: %v\n", devtoolsDir, err)
		os.Exit(1)
	}

	if err := logger.InitSlog(filepath.Join(devtoolsDir, "logs"), loaded.LogJSON); err != nil {
		fmt.Fprintf(os.Stderr, "devtools-host: init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.CloseSlog() }()

	logger.Info("devtools-host: starting for workspace %s", workspaceDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := rpcpipe.NewRegistry()
	result, err := arbiter.Arbitrate(ctx, registry, arbiter.DefaultConfig())
	if err != nil {
		logger.Error("devtools-host: arbitration failed: %v", err)
		os.Exit(1)
	}

	var stop func()
	switch result.Role {
	case arbiter.RoleHost:
		stop, err = runHost(ctx, result.Server, workspaceDir, devtoolsDir, loaded, *metricsAddrFlag)
	case arbiter.RoleClient:
		stop, err = runClient(result.Server, devtoolsDir, *metricsAddrFlag)
	}
	if err != nil {
		logger.Error("devtools-host: %s role setup failed: %v", result.Role, err)
		os.Exit(1)
	}

	logger.Info("devtools-host: acting as %s on %s", result.Role, result.PipePath)

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdownChan
	logger.Info("devtools-host: received signal %v, shutting down", sig)

	if stop != nil {
		stop()
	}
	if err := result.Server.Stop(); err != nil {
		logger.Warn("devtools-host: stop server: %v", err)
	}
	logger.Info("devtools-host: shutdown complete")
}

// serveMetrics starts the loopback-only /metrics endpoint the Domain
// Stack expansion calls for (Pipe RPC Server + Process Ledger). A blank
// addr disables it.
func serveMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("devtools-host: metrics server: %v", err)
		}
	}()
}

// runHost wires the supervisor, hot-reload coordinator, and status
// barrier, and registers the Host-side RPC method set.
func runHost(ctx context.Context, server *rpcpipe.Server, workspaceDir, devtoolsDir string, loaded *config.LoadedConfig, metricsAddr string) (func(), error) {
	serveMetrics(metricsAddr)

	hashStore, err := ledger.OpenStore(filepath.Join(devtoolsDir, "state.db"))
	if err != nil {
		return nil, fmt.Errorf("open hash store: %w", err)
	}

	cleaner := cleanup.New(cleanup.DefaultConfig(devtoolsDir))
	cleaner.Start()

	var runtime supervisor.ChildRuntime
	if loaded.Editor.Containerized {
		pref := childruntime.GetRuntimePreference()
		if pref != "auto" && pref != "docker" {
			logger.Warn("devtools-host: CONTAINER_RUNTIME=%s requested but only docker is wired, ignoring", pref)
		}
		backend, err := docker.NewRuntime("")
		if err != nil {
			logger.Warn("devtools-host: containerized client requested but docker runtime unavailable: %v", err)
		} else {
			cached := childruntime.NewCachedRuntime(backend, 5*time.Second)
			runtime = supervisor.NewContainerRuntime(cached)
		}
	}

	extensionDir := loaded.Editor.ExtensionDir
	if extensionDir != "" && !filepath.IsAbs(extensionDir) {
		extensionDir = filepath.Join(workspaceDir, extensionDir)
	}

	sup := supervisor.New(supervisor.Config{
		WorkspaceDir:   workspaceDir,
		ExtensionDir:   extensionDir,
		ClientPipePath: arbiter.ClientPipePath(),
		Runtime:        runtime,
		OnReconnected: func() {
			logger.Info("devtools-host: client reconnected")
		},
	}, loaded.Editor.Binary)

	opts := supervisor.LaunchOptions{
		DisableExtensions:     loaded.Editor.DisableExtensions,
		EnableExtensions:      loaded.Editor.EnableExtensions,
		SkipReleaseNotes:      loaded.Editor.SkipReleaseNotes,
		SkipWelcome:           loaded.Editor.SkipWelcome,
		DisableGPU:            loaded.Editor.DisableGPU,
		DisableWorkspaceTrust: loaded.Editor.DisableWorkspaceTrust,
		Verbose:               loaded.Editor.Verbose,
		Locale:                loaded.Editor.Locale,
		ExtraArgs:             loaded.Editor.ExtraArgs,
		Containerized:         loaded.Editor.Containerized,
	}

	barrier := statusbarrier.New()

	clientPipePath := arbiter.ClientPipePath()
	coordinator := hotreload.New(hotreload.Config{
		ExtDir:             filepath.Join(workspaceDir, loaded.HotReload.ExtDir),
		MCPDir:             filepath.Join(workspaceDir, loaded.HotReload.MCPDir),
		ExtBuildScript:     loaded.HotReload.ExtBuildScript,
		MCPBuildScript:     loaded.HotReload.MCPBuildScript,
		Store:              hashStore,
		Notifier:           &pipeNotifier{pipePath: clientPipePath},
		Editor:             &pipeEditorCommands{pipePath: clientPipePath},
		Client:             &clientRestarterAdapter{sup: sup, opts: opts},
		Barrier:            barrier,
		StalenessSweepCron: loaded.HotReload.StalenessSweepCron,
	})
	if err := coordinator.StartStalenessSweep(ctx); err != nil {
		logger.Warn("devtools-host: staleness sweep: %v", err)
	}

	rpcpipe.RegisterHandler(server, "mcpReady", func(ctx context.Context, params mcpReadyParams) (any, error) {
		// A (re)started MCP server identifying itself opens the barrier.
		coordinator.McpReady()
		rec, err := sup.EnsureReady(ctx, opts, params.ForceRestart)
		if err != nil {
			return nil, err
		}
		if err := validation.ValidatePort(rec.CDPPort); err != nil {
			return nil, fmt.Errorf("mcpReady: %w", err)
		}
		return mcpReadyResult{
			CDPPort:         rec.CDPPort,
			UserDataDir:     devtoolsUserDataDir(workspaceDir),
			ClientStartedAt: rec.SpawnedAt,
		}, nil
	})

	rpcpipe.RegisterHandler(server, "hotReloadRequired", func(ctx context.Context, params struct{}) (any, error) {
		rec, err := sup.EnsureReady(ctx, opts, true)
		if err != nil {
			return nil, err
		}
		if err := validation.ValidatePort(rec.CDPPort); err != nil {
			return nil, fmt.Errorf("hotReloadRequired: %w", err)
		}
		return mcpReadyResult{
			CDPPort:         rec.CDPPort,
			UserDataDir:     devtoolsUserDataDir(workspaceDir),
			ClientStartedAt: rec.SpawnedAt,
		}, nil
	})

	rpcpipe.RegisterHandler(server, "clientShuttingDown", func(ctx context.Context, params struct{}) (any, error) {
		go func() {
			reconnectCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			if err := sup.Reconnect(reconnectCtx); err != nil {
				logger.Debug("devtools-host: reconnect after clientShuttingDown: %v", err)
			}
		}()
		return map[string]any{"ok": true}, nil
	})

	rpcpipe.RegisterHandler(server, "getStatus", func(ctx context.Context, params struct{}) (any, error) {
		h := sup.CurrentHandle()
		circuitOpen, crashesInWindow := sup.BreakerStatus()
		status := statusResult{
			HotReloadPending:      barrier.IsPending(),
			WorkerCircuitOpen:     circuitOpen,
			WorkerCrashesInWindow: crashesInWindow,
		}
		if h != nil {
			status.CDPPort = h.CDPPort
			status.InspectorPort = h.InspectorPort
			status.PID = h.RealPID
		}
		return status, nil
	})

	rpcpipe.RegisterHandler(server, "takeover", func(ctx context.Context, params struct{}) (any, error) {
		if err := sup.Teardown(ctx); err != nil {
			logger.Warn("devtools-host: takeover teardown: %v", err)
		}
		return map[string]any{"ok": true}, nil
	})

	rpcpipe.RegisterHandler(server, "teardown", func(ctx context.Context, params struct{}) (any, error) {
		if err := sup.Teardown(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil
	})

	rpcpipe.RegisterHandler(server, "checkForChanges", func(ctx context.Context, params struct{}) (any, error) {
		return coordinator.CheckForChanges(ctx)
	})

	rpcpipe.RegisterHandler(server, "readyToRestart", func(ctx context.Context, params struct{}) (any, error) {
		if err := coordinator.ReadyToRestart(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil
	})

	// mcpStatus backs the tool of the same name in cmd/devtools-mcpshim,
	// which needs a Host-side call to reach the barrier it owns.
	rpcpipe.RegisterHandler(server, "mcpStatus", func(ctx context.Context, params mcpStatusParams) (any, error) {
		timeout := time.Duration(params.TimeoutMs) * time.Millisecond
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		return mcpStatusResult{Ready: barrier.WaitForReady(timeout)}, nil
	})

	stop := func() {
		cleaner.Stop()
		coordinator.StopStalenessSweep()
		teardownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sup.Teardown(teardownCtx); err != nil {
			logger.Debug("devtools-host: shutdown teardown: %v", err)
		}
		if err := hashStore.Close(); err != nil {
			logger.Debug("devtools-host: close hash store: %v", err)
		}
	}
	return stop, nil
}

// runClient registers the Client-side method set: the Process Ledger
// surface.
func runClient(server *rpcpipe.Server, devtoolsDir string, metricsAddr string) (func(), error) {
	serveMetrics(metricsAddr)

	led, err := ledger.Open(devtoolsDir, time.Now())
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	rpcpipe.RegisterHandler(server, "system.getProcessLedger", func(ctx context.Context, params struct{}) (any, error) {
		led.RefreshActiveChildren()
		descendants, err := led.ListDescendants(ctx)
		if err != nil {
			logger.Warn("devtools-host: list descendants: %v", err)
		}
		snap := led.Snapshot()
		attachChildren(snap.Active, descendants)
		attachChildren(snap.Orphaned, descendants)
		return snap, nil
	})

	rpcpipe.RegisterHandler(server, "process.kill", func(ctx context.Context, params killParams) (any, error) {
		if err := validation.ValidatePID(params.PID); err != nil {
			return nil, err
		}
		if err := led.KillPID(params.PID, time.Now()); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil
	})

	rpcpipe.RegisterHandler(server, "process.killOrphans", func(ctx context.Context, params struct{}) (any, error) {
		return led.KillAllOrphans(time.Now()), nil
	})

	stop := func() {
		if err := led.Close(); err != nil {
			logger.Debug("devtools-host: close ledger: %v", err)
		}
	}
	return stop, nil
}

func attachChildren(entries []ledger.ProcessEntry, descendants []ledger.ChildInfo) {
	byParent := make(map[int][]ledger.ChildInfo)
	for _, d := range descendants {
		byParent[d.ParentPID] = append(byParent[d.ParentPID], d)
	}
	for i := range entries {
		entries[i].Children = byParent[entries[i].PID]
	}
}

func devtoolsUserDataDir(workspaceDir string) string {
	return filepath.Join(workspaceDir, ".devtools", "user-data")
}

type mcpReadyParams struct {
	ForceRestart bool `json:"forceRestart,omitempty"`
}

type mcpReadyResult struct {
	CDPPort         int       `json:"cdpPort"`
	UserDataDir     string    `json:"userDataDir"`
	ClientStartedAt time.Time `json:"clientStartedAt"`
}

type statusResult struct {
	PID                   int  `json:"pid,omitempty"`
	CDPPort               int  `json:"cdpPort,omitempty"`
	InspectorPort         int  `json:"inspectorPort,omitempty"`
	HotReloadPending      bool `json:"hotReloadPending"`
	WorkerCircuitOpen     bool `json:"workerCircuitOpen"`
	WorkerCrashesInWindow int  `json:"workerCrashesInWindow"`
}

type killParams struct {
	PID int `json:"pid"`
}

type mcpStatusParams struct {
	TimeoutMs int `json:"timeoutMs,omitempty"`
}

type mcpStatusResult struct {
	Ready bool `json:"ready"`
}
