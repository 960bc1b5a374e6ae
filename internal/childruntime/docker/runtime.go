// Package docker implements childruntime.Runtime over the Docker Engine
// API, for workspaces that opt into a containerized Client (launch-flag
// `containerized: true`).
package docker

import (
	"context"
	"fmt"
	"time"

	"github.com/outpostlabs/devtools-core/internal/childruntime"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/nat"
	"github.com/docker/docker/client"
)

// Runtime implements childruntime.Runtime using the Docker SDK.
type Runtime struct {
	client *client.Client
	image  string
}

// NewRuntime creates a new Docker runtime. image is the Client container
// image to run (built out-of-band; this package doesn't build or pull).
func NewRuntime(image string) (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Runtime{client: cli, image: image}, nil
}

func (r *Runtime) Name() string { return "docker" }

func (r *Runtime) IsAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := r.client.Ping(ctx)
	return err == nil
}

func (r *Runtime) Ping(ctx context.Context) error {
	_, err := r.client.Ping(ctx)
	return err
}

func (r *Runtime) Close() error {
	return r.client.Close()
}

// Create creates (but does not start) a container with cfg.CDPPort and
// cfg.InspectorPort published to loopback-only host ports, so the
// supervisor's CDP probe and debug-attach contract work identically to
// the native-process backend.
func (r *Runtime) Create(ctx context.Context, cfg childruntime.CreateConfig) (string, error) {
	cdpPort, err := nat.NewPort("tcp", fmt.Sprintf("%d", cfg.CDPPort))
	if err != nil {
		return "", fmt.Errorf("docker: cdp port: %w", err)
	}
	inspectorPort, err := nat.NewPort("tcp", fmt.Sprintf("%d", cfg.InspectorPort))
	if err != nil {
		return "", fmt.Errorf("docker: inspector port: %w", err)
	}

	containerConfig := &dockercontainer.Config{
		Image: r.image,
		Cmd:   cfg.Args,
		Env:   cfg.Env,
		ExposedPorts: nat.PortSet{
			cdpPort:       {},
			inspectorPort: {},
		},
		Labels: map[string]string{"devtools.workspace": cfg.WorkspaceDir},
	}

	hostConfig := &dockercontainer.HostConfig{
		AutoRemove: true,
		Mounts: []mount.Mount{
			bindMount(cfg.WorkspaceDir, "/workspace"),
			bindMount(cfg.UserDataDir, "/user-data"),
			bindMount(cfg.ExtensionDir, "/extension"),
		},
		PortBindings: nat.PortMap{
			cdpPort:       {{HostIP: "127.0.0.1", HostPort: fmt.Sprintf("%d", cfg.CDPPort)}},
			inspectorPort: {{HostIP: "127.0.0.1", HostPort: fmt.Sprintf("%d", cfg.InspectorPort)}},
		},
	}

	resp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, cfg.Name)
	if err != nil {
		return "", fmt.Errorf("docker: create container: %w", err)
	}
	return resp.ID, nil
}

func (r *Runtime) Start(ctx context.Context, handleID string) error {
	if err := r.client.ContainerStart(ctx, handleID, dockercontainer.StartOptions{}); err != nil {
		return fmt.Errorf("docker: start container: %w", err)
	}
	return nil
}

func (r *Runtime) Stop(ctx context.Context, handleID string) error {
	return r.client.ContainerStop(ctx, handleID, dockercontainer.StopOptions{})
}

func (r *Runtime) Remove(ctx context.Context, handleID string) error {
	return r.client.ContainerRemove(ctx, handleID, dockercontainer.RemoveOptions{Force: true})
}

// Inspect reports the container's init-process PID as the "real" PID.
// Same contract as the native backend, different discovery mechanism:
// it discovers its PID via lsof/netstat against the CDP port, this one
// just asks Docker.
func (r *Runtime) Inspect(ctx context.Context, handleID string) (*childruntime.Info, error) {
	inspect, err := r.client.ContainerInspect(ctx, handleID)
	if err != nil {
		return nil, fmt.Errorf("docker: inspect container: %w", err)
	}

	status := childruntime.StatusUnknown
	if inspect.State != nil {
		switch inspect.State.Status {
		case "created":
			status = childruntime.StatusCreated
		case "running":
			status = childruntime.StatusRunning
		case "exited":
			status = childruntime.StatusExited
		case "dead":
			status = childruntime.StatusDead
		}
	}

	var pid int
	var startedAt time.Time
	if inspect.State != nil {
		pid = inspect.State.Pid
		startedAt, _ = time.Parse(time.RFC3339, inspect.State.StartedAt)
	}

	return &childruntime.Info{
		HandleID:  handleID,
		PID:       pid,
		Status:    status,
		StartedAt: startedAt,
	}, nil
}

func (r *Runtime) Status(ctx context.Context, handleID string) (childruntime.Status, error) {
	info, err := r.Inspect(ctx, handleID)
	if err != nil {
		return childruntime.StatusUnknown, err
	}
	return info.Status, nil
}

func bindMount(source, target string) mount.Mount {
	return mount.Mount{Type: mount.TypeBind, Source: source, Target: target}
}
