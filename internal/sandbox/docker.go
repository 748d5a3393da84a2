package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
)

// containerWorkdir is where the requested host directory is mounted inside
// every sandbox container.
const containerWorkdir = "/workspace"

// DockerRuntime implements Runtime against the Docker Engine API.
type DockerRuntime struct {
	cli    *client.Client
	logger *slog.Logger
}

var _ Runtime = (*DockerRuntime)(nil)

// NewDockerRuntime connects to the Docker daemon using the standard
// environment configuration (DOCKER_HOST etc.).
func NewDockerRuntime(logger *slog.Logger) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &DockerRuntime{cli: cli, logger: logger}, nil
}

// Close releases the underlying API client.
func (r *DockerRuntime) Close() error { return r.cli.Close() }

// Ping probes the Docker daemon.
func (r *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

// EnsureImage verifies the sandbox image exists locally. Amri never pulls or
// builds images on its own; a missing image is an operator problem.
func (r *DockerRuntime) EnsureImage(ctx context.Context, image string) error {
	_, _, err := r.cli.ImageInspectWithRaw(ctx, image)
	if client.IsErrNotFound(err) {
		return fmt.Errorf("sandbox image %q not found: pull or build it first", image)
	}
	if err != nil {
		return fmt.Errorf("inspecting image %q: %w", image, err)
	}
	return nil
}

// CreateContainer creates and starts a container per spec and returns its ID.
func (r *DockerRuntime) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	cfg := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Cmd,
		WorkingDir: containerWorkdir,
	}

	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:     spec.Limits.MemoryBytes,
			MemorySwap: spec.Limits.MemoryBytes, // Same as memory = no swap.
			NanoCPUs:   int64(spec.Limits.CPUCores * 1e9),
		},
	}
	if spec.Limits.PIDs > 0 {
		pids := spec.Limits.PIDs
		hostCfg.Resources.PidsLimit = &pids
	}
	if spec.NetworkAllowed {
		hostCfg.NetworkMode = "bridge"
	}
	if spec.HostDir != "" {
		abs, err := filepath.Abs(spec.HostDir)
		if err != nil {
			return "", fmt.Errorf("resolving host directory %q: %w", spec.HostDir, err)
		}
		hostCfg.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: abs,
			Target: containerWorkdir,
		}}
	}

	name := "amri-sbx-" + uuid.NewString()[:8]
	resp, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		// Don't leak the created-but-unstartable container.
		_ = r.RemoveContainer(ctx, resp.ID)
		return "", fmt.Errorf("starting container: %w", err)
	}

	r.logger.Debug("sandbox container started",
		slog.String("container", name),
		slog.String("image", spec.Image),
		slog.String("host_dir", spec.HostDir),
	)
	return resp.ID, nil
}

// ContainerRunning reports whether the container exists and is running.
// An absent container is not an error; it simply isn't running.
func (r *DockerRuntime) ContainerRunning(ctx context.Context, id string) (bool, error) {
	c, err := r.cli.ContainerInspect(ctx, id)
	if client.IsErrNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inspecting container: %w", err)
	}
	return c.State != nil && c.State.Running, nil
}

// Exec runs a command inside a running container and returns the demuxed
// output with the exec's exit code.
func (r *DockerRuntime) Exec(ctx context.Context, id string, command []string) (*ExecResult, error) {
	execResp, err := r.cli.ContainerExecCreate(ctx, id, types.ExecConfig{
		Cmd:          command,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   containerWorkdir,
	})
	if err != nil {
		return nil, fmt.Errorf("creating exec: %w", err)
	}

	attach, err := r.cli.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return nil, fmt.Errorf("attaching exec: %w", err)
	}
	defer attach.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(
		&limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes},
		&limitedWriter{w: &stderrBuf, remaining: maxOutputBytes},
		attach.Reader,
	); err != nil && ctx.Err() != nil {
		// Deadline fired mid-stream; surface the cancellation, the caller
		// maps it to the timeout outcome.
		return nil, ctx.Err()
	}

	inspect, err := r.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("inspecting exec result: %w", err)
	}

	return &ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
	}, nil
}

// WaitContainer blocks until the container stops and returns its exit code.
func (r *DockerRuntime) WaitContainer(ctx context.Context, id string) (int, error) {
	statusCh, errCh := r.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return 0, fmt.Errorf("waiting for container: %w", err)
	case status := <-statusCh:
		if status.Error != nil {
			return ExitFailure, fmt.Errorf("container wait reported: %s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

// ContainerOutput returns the accumulated stdout and stderr of a container.
func (r *DockerRuntime) ContainerOutput(ctx context.Context, id string) (string, string, error) {
	rc, err := r.cli.ContainerLogs(ctx, id, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("reading container logs: %w", err)
	}
	defer rc.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(
		&limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes},
		&limitedWriter{w: &stderrBuf, remaining: maxOutputBytes},
		rc,
	); err != nil {
		return stdoutBuf.String(), stderrBuf.String(), fmt.Errorf("demuxing container logs: %w", err)
	}
	return stdoutBuf.String(), stderrBuf.String(), nil
}

// StopContainer stops a container, allowing graceSeconds for a clean exit.
func (r *DockerRuntime) StopContainer(ctx context.Context, id string, graceSeconds int) error {
	if err := r.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &graceSeconds}); err != nil {
		return fmt.Errorf("stopping container: %w", err)
	}
	return nil
}

// RemoveContainer force-removes a container. Already-gone is success.
func (r *DockerRuntime) RemoveContainer(ctx context.Context, id string) error {
	err := r.cli.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true})
	if client.IsErrNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("removing container: %w", err)
	}
	return nil
}
