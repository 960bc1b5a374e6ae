package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/outpostlabs/devtools-core/internal/logger"
)

// editorEnvPrefix marks environment variables that would cause a spawned
// editor process to re-enter this process's own IPC channel.
const editorEnvPrefix = "VSCODE_"

// localRuntime spawns the Client as a native OS process and discovers
// its real PID by querying the OS for whoever is listening on the CDP
// port.
type localRuntime struct {
	editorBin string
}

// newLocalRuntime returns the default ChildRuntime backend. editorBin is
// the path to the editor binary (or, on Windows, its launcher stub).
func newLocalRuntime(editorBin string) *localRuntime {
	return &localRuntime{editorBin: editorBin}
}

func (r *localRuntime) Name() string { return "local" }

func (r *localRuntime) Spawn(ctx context.Context, cfg SpawnConfig, cdpPort, inspectorPort int, userDataDir string) (*Handle, error) {
	args := buildEditorArgs(cfg, cdpPort, inspectorPort, userDataDir)

	cmd := exec.Command(r.editorBin, args...)
	cmd.Env = scrubEditorEnv(os.Environ())
	cmd.Stdin = nil
	cmd.Stdout = nil
	var stderr strings.Builder
	cmd.Stderr = &stderr
	setDetached(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("supervisor: spawn client: %w", err)
	}

	// On Windows the binary is a launcher stub that forks the real editor
	// and exits almost immediately with a benign code; that exit is not a
	// spawn failure, so Spawn doesn't wait for it. A background goroutine
	// reaps the launcher and logs its exit at debug level.
	go func() {
		if err := cmd.Wait(); err != nil {
			logger.Debug("supervisor: launcher process exited: %v (stderr: %s)", err, stderr.String())
		}
	}()

	return &Handle{
		BackendID:     strconv.Itoa(cmd.Process.Pid),
		LauncherPID:   cmd.Process.Pid,
		CDPPort:       cdpPort,
		InspectorPort: inspectorPort,
	}, nil
}

// DiscoverPID finds the OS process bound to h.CDPPort: lsof on
// Unix-likes, netstat on Windows.
func (r *localRuntime) DiscoverPID(ctx context.Context, h *Handle) (int, error) {
	if runtime.GOOS == "windows" {
		return discoverPIDWindows(ctx, h.CDPPort)
	}
	return discoverPIDUnix(ctx, h.CDPPort)
}

// Stop kills the real PID first, then the launcher PID if distinct,
// swallowing errors from either.
func (r *localRuntime) Stop(ctx context.Context, h *Handle) error {
	if h.RealPID != 0 {
		if err := killTree(h.RealPID); err != nil {
			logger.Debug("supervisor: kill real pid %d: %v", h.RealPID, err)
		}
	}
	if h.LauncherPID != 0 && h.LauncherPID != h.RealPID {
		if err := killTree(h.LauncherPID); err != nil {
			logger.Debug("supervisor: kill launcher pid %d: %v", h.LauncherPID, err)
		}
	}
	return nil
}

func buildEditorArgs(cfg SpawnConfig, cdpPort, inspectorPort int, userDataDir string) []string {
	args := []string{
		"--extensionDevelopmentPath=" + cfg.ExtensionDir,
		fmt.Sprintf("--remote-debugging-port=%d", cdpPort),
		fmt.Sprintf("--inspect-extensions=%d", inspectorPort),
		"--user-data-dir=" + userDataDir,
		"--new-window",
		"--no-sandbox",
	}

	opts := cfg.Options
	if opts.DisableExtensions {
		args = append(args, "--disable-extensions")
		for _, id := range opts.EnableExtensions {
			args = append(args, "--enable-extension="+id)
		}
	}
	if opts.SkipReleaseNotes {
		args = append(args, "--skip-release-notes")
	}
	if opts.SkipWelcome {
		args = append(args, "--skip-welcome")
	}
	if opts.DisableGPU {
		args = append(args, "--disable-gpu")
	}
	if opts.DisableWorkspaceTrust {
		args = append(args, "--disable-workspace-trust")
	}
	if opts.Verbose {
		args = append(args, "--verbose")
	}
	if opts.Locale != "" {
		args = append(args, "--locale="+opts.Locale)
	}
	args = append(args, opts.ExtraArgs...)
	args = append(args, cfg.WorkspaceDir)

	return args
}

// scrubEditorEnv drops any VSCODE_-prefixed variable plus the two
// boolean flags that would switch the spawned binary into a non-editor
// mode, so it doesn't re-enter this process's own IPC.
func scrubEditorEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, editorEnvPrefix) {
			continue
		}
		if key == "ELECTRON_RUN_AS_NODE" || key == "ELECTRON_NO_ATTACH_CONSOLE" {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func discoverPIDUnix(ctx context.Context, port int) (int, error) {
	out, err := exec.CommandContext(ctx, "lsof", "-ti", fmt.Sprintf(":%d", port)).Output()
	if err != nil {
		return 0, fmt.Errorf("supervisor: lsof discover pid on port %d: %w", port, err)
	}
	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	pid, err := strconv.Atoi(line)
	if err != nil {
		return 0, fmt.Errorf("supervisor: parse lsof output %q: %w", line, err)
	}
	return pid, nil
}

func discoverPIDWindows(ctx context.Context, port int) (int, error) {
	cmd := fmt.Sprintf(`netstat -ano | findstr "LISTENING" | findstr ":%d "`, port)
	out, err := exec.CommandContext(ctx, "cmd", "/C", cmd).Output()
	if err != nil {
		return 0, fmt.Errorf("supervisor: netstat discover pid on port %d: %w", port, err)
	}
	fields := strings.Fields(strings.TrimSpace(out2firstLine(string(out))))
	if len(fields) == 0 {
		return 0, fmt.Errorf("supervisor: no netstat match for port %d", port)
	}
	pid, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return 0, fmt.Errorf("supervisor: parse netstat output %q: %w", fields, err)
	}
	return pid, nil
}

func out2firstLine(s string) string {
	return strings.SplitN(s, "\n", 2)[0]
}

func userDataDirFor(workspaceDir string) string {
	return filepath.Join(workspaceDir, ".devtools", "user-data")
}
