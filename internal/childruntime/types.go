// Package childruntime abstracts the two ways the Client Lifecycle
// Supervisor can stand up a Client: as a native OS process, or inside a
// container. Both backends satisfy the same Runtime so the readiness,
// reconnect, teardown, and health-check logic in internal/supervisor
// doesn't need to know which one it's talking to.
package childruntime

import (
	"context"
	"time"
)

// Runtime is the supervisor-facing handle over a single running Client.
// It tracks whatever OS-level accounting its backend needs internally and
// exposes only what the supervisor cares about: one effective PID, one
// stop.
type Runtime interface {
	// Create prepares (but does not start) a Client instance and returns
	// a backend-specific handle ID the other methods key off of.
	Create(ctx context.Context, cfg CreateConfig) (string, error)
	Start(ctx context.Context, handleID string) error
	Stop(ctx context.Context, handleID string) error
	Remove(ctx context.Context, handleID string) error

	// Inspect returns the effective PID and lifecycle status once the
	// handle is running. Info also has CDPPort and InspectorPort fields;
	// the Docker backend leaves them zero.
	Inspect(ctx context.Context, handleID string) (*Info, error)
	Status(ctx context.Context, handleID string) (Status, error)

	// Health
	Ping(ctx context.Context) error
	Close() error

	// Metadata
	Name() string
	IsAvailable() bool
}

// CreateConfig describes the Client to spawn, independent of backend.
type CreateConfig struct {
	Name         string
	WorkspaceDir string
	UserDataDir  string
	ExtensionDir string
	Args         []string
	Env          []string

	// CDPPort and InspectorPort are the loopback ports the backend must
	// make reachable at 127.0.0.1 once the Client is running — for a
	// native process these are simply the ports it was told to listen
	// on; for a container backend they're published from the
	// container's network namespace to the host's.
	CDPPort       int
	InspectorPort int
}

// Info is what Inspect reports once a handle is running.
type Info struct {
	HandleID      string
	PID           int
	CDPPort       int
	InspectorPort int
	Status        Status
	StartedAt     time.Time
}

// Status mirrors the lifecycle states a Client handle can be in.
type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusExited  Status = "exited"
	StatusDead    Status = "dead"
	StatusUnknown Status = "unknown"
)
