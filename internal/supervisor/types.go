// Package supervisor owns the single live editor Client for a workspace:
// spawn, readiness-probe, reconnect, teardown, and health-check.
package supervisor

import (
	"context"
	"time"
)

// LaunchOptions are the recognized editor launch-flag overrides.
type LaunchOptions struct {
	DisableExtensions     bool
	EnableExtensions      []string
	SkipReleaseNotes      bool
	SkipWelcome           bool
	DisableGPU            bool
	DisableWorkspaceTrust bool
	Verbose               bool
	Locale                string
	ExtraArgs             []string

	// Containerized selects the containerRuntime backend over the
	// default localRuntime.
	Containerized bool
}

// SpawnConfig is everything Spawn needs beyond the launch flags.
type SpawnConfig struct {
	WorkspaceDir string
	ExtensionDir string
	Options      LaunchOptions
}

// ChildRuntime abstracts how a Client is actually stood up: it tracks
// whatever PIDs or container state its backend needs internally and
// exposes only an effective PID and a single Stop.
type ChildRuntime interface {
	// Spawn launches the Client and returns a handle; it does not wait
	// for readiness.
	Spawn(ctx context.Context, cfg SpawnConfig, cdpPort, inspectorPort int, userDataDir string) (*Handle, error)

	// DiscoverPID re-resolves the effective PID from the CDP port (the
	// launcher PID and the real editor PID can differ; the container
	// backend asks Docker instead of shelling out to lsof/netstat).
	DiscoverPID(ctx context.Context, h *Handle) (int, error)

	// Stop kills the effective PID (and the launcher PID if distinct),
	// best-effort; errors are for logging only.
	Stop(ctx context.Context, h *Handle) error

	Name() string
}

// Handle is an in-flight Client instance as tracked by a ChildRuntime
// backend.
type Handle struct {
	BackendID   string // launcher PID (local) or container ID (docker), as a string
	LauncherPID int    // 0 if the backend has no separate launcher concept
	RealPID     int
	CDPPort     int
	InspectorPort int
}

// SessionRecord is the persisted artifact describing the live Client: a
// single JSON document under `.devtools/host-session.json`, rewritten
// atomically on every state change, deleted on teardown.
type SessionRecord struct {
	PID           int       `json:"pid"`
	CDPPort       int       `json:"cdpPort"`
	InspectorPort int       `json:"inspectorPort"`
	ExtensionPath string    `json:"extensionPath"`
	SpawnedAt     time.Time `json:"spawnedAt"`
}
