package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

const (
	sandboxImage = "clovekernel-agent:latest"
	agentUser    = "1000"

	createRetryAttempts = 20
)

// DockerBackend spawns sandboxed agents as Docker containers, reusing
// the container's own namespace and cgroup isolation instead of
// managing Linux namespaces directly (spec §4.8's "sandboxed=true"
// path). It is the primary sandboxed backend; BareBackend
// (namespace.go) is used when Docker is unavailable or unwanted.
type DockerBackend struct {
	cli *client.Client
}

// NewDockerBackend connects to the local Docker daemon using the
// ambient environment (DOCKER_HOST etc).
func NewDockerBackend() (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("supervisor: create docker client: %w", err)
	}
	return &DockerBackend{cli: cli}, nil
}

// Spawn creates and starts a container for spec, applying spec.Limits
// to the container's resource controller and spec.Network to its
// network mode (spec §4.8: "net namespace only when network=false").
func (b *DockerBackend) Spawn(ctx context.Context, spec AgentSpec) (Handle, error) {
	name := fmt.Sprintf("clovekernel-agent-%d", spec.AgentID)

	networkMode := container.NetworkMode("bridge")
	if !spec.Network {
		networkMode = container.NetworkMode("none")
	}

	cfg := &container.Config{
		Image:      sandboxImage,
		User:       agentUser,
		Entrypoint: []string{"sh", "-c"},
		Cmd:        []string{spec.Command},
		Env:        spec.Env,
		WorkingDir: spec.Cwd,
	}

	hostCfg := &container.HostConfig{
		NetworkMode: networkMode,
		Resources: container.Resources{
			Memory:    spec.Limits.MemoryLimitBytes,
			CPUQuota:  spec.Limits.CPUQuota,
			PidsLimit: ptrInt64(spec.Limits.MaxPIDs),
		},
	}

	var resp container.CreateResponse
	var createErr error
	for i := 0; i < createRetryAttempts; i++ {
		resp, createErr = b.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
		if createErr == nil {
			break
		}
		if !strings.Contains(strings.ToLower(createErr.Error()), "already in use") {
			return nil, fmt.Errorf("supervisor: create container for agent %d: %w", spec.AgentID, createErr)
		}
		if existing, err := b.cli.ContainerInspect(ctx, name); err == nil {
			_ = b.stop(ctx, existing.ID)
		}
	}
	if createErr != nil {
		return nil, fmt.Errorf("supervisor: create container for agent %d after retries: %w", spec.AgentID, createErr)
	}

	if err := b.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if rmErr := b.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			slog.Warn("supervisor: cleanup after failed container start", "container_id", resp.ID, "error", rmErr)
		}
		return nil, fmt.Errorf("supervisor: start container %s: %w", resp.ID, err)
	}

	slog.Info("supervisor: container agent started", "agent_id", spec.AgentID, "container_id", resp.ID)
	return &dockerHandle{backend: b, containerID: resp.ID}, nil
}

func (b *DockerBackend) stop(ctx context.Context, containerID string) error {
	timeout := 10
	if err := b.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil && !errdefs.IsNotFound(err) {
		slog.Debug("supervisor: stop container returned error, continuing to remove", "container_id", containerID, "error", err)
	}
	if err := b.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("supervisor: remove container %s: %w", containerID, err)
	}
	return nil
}

// dockerHandle adapts one running container to the Handle interface.
type dockerHandle struct {
	backend     *DockerBackend
	containerID string
}

func (h *dockerHandle) Signal(ctx context.Context, sig string) error {
	return h.backend.cli.ContainerKill(ctx, h.containerID, sig)
}

func (h *dockerHandle) Wait(ctx context.Context) (exitCode int, err error) {
	statusCh, errCh := h.backend.cli.ContainerWait(ctx, h.containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, fmt.Errorf("supervisor: wait container %s: %w", h.containerID, err)
	case status := <-statusCh:
		return int(status.StatusCode), nil
	}
}

func (h *dockerHandle) Release(ctx context.Context) error {
	return h.backend.stop(ctx, h.containerID)
}

func (h *dockerHandle) PID() int { return 0 }

func ptrInt64(v int64) *int64 {
	if v <= 0 {
		return nil
	}
	return &v
}
