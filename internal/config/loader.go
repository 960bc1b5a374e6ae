package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/outpostlabs/devtools-core/internal/validation"
)

// FileConfig is the on-disk shape of devtools.jsonc: editor-launch
// defaults, hot-reload packages and build scripts, ledger settings, and
// the log format.
type FileConfig struct {
	Editor    EditorConfig    `json:"editor,omitempty"`
	HotReload HotReloadConfig `json:"hotReload,omitempty"`
	Ledger    LedgerConfig    `json:"ledger,omitempty"`
	LogJSON   bool            `json:"logJSON,omitempty"`
}

// EditorConfig mirrors the supervisor's launch-flag overrides, as JSONC
// defaults rather than per-invocation flags.
type EditorConfig struct {
	Binary                string   `json:"binary,omitempty"`
	ExtensionDir          string   `json:"extensionDir,omitempty"`
	DisableExtensions     bool     `json:"disableExtensions,omitempty"`
	EnableExtensions      []string `json:"enableExtensions,omitempty"`
	SkipReleaseNotes      bool     `json:"skipReleaseNotes,omitempty"`
	SkipWelcome           bool     `json:"skipWelcome,omitempty"`
	DisableGPU            bool     `json:"disableGPU,omitempty"`
	DisableWorkspaceTrust bool     `json:"disableWorkspaceTrust,omitempty"`
	Verbose               bool     `json:"verbose,omitempty"`
	Locale                string   `json:"locale,omitempty"`
	ExtraArgs             []string `json:"extraArgs,omitempty"`
	Containerized         bool     `json:"containerized,omitempty"`
}

// HotReloadConfig names the two watched packages and their build
// scripts.
type HotReloadConfig struct {
	ExtDir             string `json:"extDir,omitempty"`
	MCPDir             string `json:"mcpDir,omitempty"`
	ExtBuildScript     string `json:"extBuildScript,omitempty"`
	MCPBuildScript     string `json:"mcpBuildScript,omitempty"`
	StalenessSweepCron string `json:"stalenessSweepCron,omitempty"`
}

// LedgerConfig tunes the process ledger's maintenance cadence.
type LedgerConfig struct {
	CleanupIntervalMinutes int `json:"cleanupIntervalMinutes,omitempty"`
}

// LoadedConfig is the fully resolved configuration: file defaults
// overlaid with environment variables and finally explicit flags, per
// the flag → env var → workspace-local file → home-directory default
// precedence chain.
type LoadedConfig struct {
	Editor    EditorConfig
	HotReload HotReloadConfig
	Ledger    LedgerConfig
	LogJSON   bool
	ConfigDir string
}

// FindConfigPath searches workspaceDir for devtools.jsonc, falling back
// to $HOME/.devtools/devtools.jsonc. Returns "" with no error if neither
// exists — an empty config is valid, all-defaults.
func FindConfigPath(workspaceDir string) (string, error) {
	candidate := filepath.Join(workspaceDir, "devtools.jsonc")
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}

	home, err := os.UserHomeDir()
	if err == nil {
		fallback := filepath.Join(home, ".devtools", "devtools.jsonc")
		if _, err := os.Stat(fallback); err == nil {
			return fallback, nil
		}
	}

	return "", nil
}

// LoadFile parses path (JSONC) into a FileConfig. An empty path returns
// the zero value.
func LoadFile(path string) (FileConfig, error) {
	var cfg FileConfig
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(StripJSONComments(raw), &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Defaults returns the well-known fallback values used when neither a
// file nor an environment variable supplies one.
func Defaults() FileConfig {
	return FileConfig{
		Editor: EditorConfig{
			Binary: "code",
		},
		HotReload: HotReloadConfig{
			ExtDir:             "extension",
			MCPDir:             "packages/mcp-server",
			ExtBuildScript:     "build",
			MCPBuildScript:     "build",
			StalenessSweepCron: "*/10 * * * *",
		},
		Ledger: LedgerConfig{
			CleanupIntervalMinutes: 5,
		},
	}
}

// applyEnvOverrides layers well-known DEVTOOLS_* environment variables
// over cfg, the middle link of the flag → env var → file → default
// chain.
func applyEnvOverrides(cfg FileConfig) FileConfig {
	if v := os.Getenv("DEVTOOLS_EDITOR_BINARY"); v != "" {
		cfg.Editor.Binary = v
	}
	if v := os.Getenv("DEVTOOLS_EXTENSION_DIR"); v != "" {
		cfg.Editor.ExtensionDir = v
	}
	if v := os.Getenv("DEVTOOLS_EXT_DIR"); v != "" {
		cfg.HotReload.ExtDir = v
	}
	if v := os.Getenv("DEVTOOLS_MCP_DIR"); v != "" {
		cfg.HotReload.MCPDir = v
	}
	if v := os.Getenv("DEVTOOLS_LOG_JSON"); v == "1" || v == "true" {
		cfg.LogJSON = true
	}
	return cfg
}

// Load resolves devtools.jsonc for workspaceDir, applies environment
// overrides, and fills in any field flags left unset. flagOverrides is
// applied last (highest precedence) and may be the zero value.
func Load(workspaceDir string, flagOverrides FileConfig) (*LoadedConfig, error) {
	path, err := FindConfigPath(workspaceDir)
	if err != nil {
		return nil, err
	}

	cfg := mergeDefaults(Defaults())
	fileCfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	cfg = mergeFileConfig(cfg, fileCfg)
	cfg = applyEnvOverrides(cfg)
	cfg = mergeFileConfig(cfg, flagOverrides)

	loaded := &LoadedConfig{
		Editor:    cfg.Editor,
		HotReload: cfg.HotReload,
		Ledger:    cfg.Ledger,
		LogJSON:   cfg.LogJSON,
		ConfigDir: filepath.Dir(path),
	}
	if path == "" {
		loaded.ConfigDir = workspaceDir
	}
	return loaded, nil
}

func mergeDefaults(d FileConfig) FileConfig { return d }

// mergeFileConfig overlays any non-zero field of override onto base.
func mergeFileConfig(base, override FileConfig) FileConfig {
	if override.Editor.Binary != "" {
		base.Editor.Binary = override.Editor.Binary
	}
	if override.Editor.ExtensionDir != "" {
		base.Editor.ExtensionDir = override.Editor.ExtensionDir
	}
	if len(override.Editor.EnableExtensions) > 0 {
		base.Editor.EnableExtensions = override.Editor.EnableExtensions
	}
	if override.Editor.DisableExtensions {
		base.Editor.DisableExtensions = true
	}
	if override.Editor.SkipReleaseNotes {
		base.Editor.SkipReleaseNotes = true
	}
	if override.Editor.SkipWelcome {
		base.Editor.SkipWelcome = true
	}
	if override.Editor.DisableGPU {
		base.Editor.DisableGPU = true
	}
	if override.Editor.DisableWorkspaceTrust {
		base.Editor.DisableWorkspaceTrust = true
	}
	if override.Editor.Verbose {
		base.Editor.Verbose = true
	}
	if override.Editor.Locale != "" {
		base.Editor.Locale = override.Editor.Locale
	}
	if len(override.Editor.ExtraArgs) > 0 {
		base.Editor.ExtraArgs = override.Editor.ExtraArgs
	}
	if override.Editor.Containerized {
		base.Editor.Containerized = true
	}
	if override.HotReload.ExtDir != "" {
		base.HotReload.ExtDir = override.HotReload.ExtDir
	}
	if override.HotReload.MCPDir != "" {
		base.HotReload.MCPDir = override.HotReload.MCPDir
	}
	if override.HotReload.ExtBuildScript != "" {
		base.HotReload.ExtBuildScript = override.HotReload.ExtBuildScript
	}
	if override.HotReload.MCPBuildScript != "" {
		base.HotReload.MCPBuildScript = override.HotReload.MCPBuildScript
	}
	if override.HotReload.StalenessSweepCron != "" {
		base.HotReload.StalenessSweepCron = override.HotReload.StalenessSweepCron
	}
	if override.Ledger.CleanupIntervalMinutes != 0 {
		base.Ledger.CleanupIntervalMinutes = override.Ledger.CleanupIntervalMinutes
	}
	if override.LogJSON {
		base.LogJSON = true
	}
	return base
}

// Validate checks that directories named in the resolved config are
// workspace-relative and traversal-free — any path accepted from
// configuration is an attacker-controlled boundary.
func (c *LoadedConfig) Validate() error {
	if c.Editor.ExtensionDir != "" {
		if _, err := validation.SanitizePath(c.Editor.ExtensionDir); err != nil {
			return fmt.Errorf("config: editor.extensionDir: %w", err)
		}
	}
	if _, err := validation.SanitizePath(c.HotReload.ExtDir); err != nil {
		return fmt.Errorf("config: hotReload.extDir: %w", err)
	}
	if _, err := validation.SanitizePath(c.HotReload.MCPDir); err != nil {
		return fmt.Errorf("config: hotReload.mcpDir: %w", err)
	}
	return nil
}
