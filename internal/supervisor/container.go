package supervisor

import (
	"context"
	"fmt"

	"github.com/outpostlabs/devtools-core/internal/childruntime"
	"github.com/outpostlabs/devtools-core/internal/validation"
)

// containerRuntime runs the Client inside a container instead of as a
// native OS process (launch-flag `containerized: true`). "Real PID" here
// is the container's init-process PID as Docker reports it — same
// contract as localRuntime's lsof-discovered PID, different discovery
// mechanism.
type containerRuntime struct {
	backend childruntime.Runtime
}

func newContainerRuntime(backend childruntime.Runtime) *containerRuntime {
	return &containerRuntime{backend: backend}
}

// NewContainerRuntime exposes the container-backed ChildRuntime to
// callers outside this package (cmd/devtools-host wires it in when the
// workspace's launch options ask for `containerized: true`).
func NewContainerRuntime(backend childruntime.Runtime) ChildRuntime {
	return newContainerRuntime(backend)
}

func (r *containerRuntime) Name() string { return "container:" + r.backend.Name() }

func (r *containerRuntime) Spawn(ctx context.Context, cfg SpawnConfig, cdpPort, inspectorPort int, userDataDir string) (*Handle, error) {
	handleID, err := r.backend.Create(ctx, childruntime.CreateConfig{
		Name:          "devtools-client",
		WorkspaceDir:  cfg.WorkspaceDir,
		UserDataDir:   userDataDir,
		ExtensionDir:  cfg.ExtensionDir,
		Args:          buildEditorArgs(cfg, cdpPort, inspectorPort, "/user-data"),
		CDPPort:       cdpPort,
		InspectorPort: inspectorPort,
	})
	if err != nil {
		return nil, fmt.Errorf("supervisor: container create: %w", err)
	}
	if err := validation.ValidateContainerID(handleID); err != nil {
		return nil, fmt.Errorf("supervisor: container create returned %w", err)
	}
	if err := r.backend.Start(ctx, handleID); err != nil {
		return nil, fmt.Errorf("supervisor: container start: %w", err)
	}

	return &Handle{
		BackendID:     handleID,
		CDPPort:       cdpPort,
		InspectorPort: inspectorPort,
	}, nil
}

func (r *containerRuntime) DiscoverPID(ctx context.Context, h *Handle) (int, error) {
	info, err := r.backend.Inspect(ctx, h.BackendID)
	if err != nil {
		return 0, fmt.Errorf("supervisor: container inspect: %w", err)
	}
	return info.PID, nil
}

func (r *containerRuntime) Stop(ctx context.Context, h *Handle) error {
	if err := r.backend.Stop(ctx, h.BackendID); err != nil {
		return fmt.Errorf("supervisor: container stop: %w", err)
	}
	return r.backend.Remove(ctx, h.BackendID)
}
