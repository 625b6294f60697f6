package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"

	"github.com/insightpulseai/hawk/internal/config"
)

const (
	dockerDisplay     = ":99"
	dockerStopTimeout = 10 // seconds
)

// dockerJail is the local-process isolation tier: a container with no
// network, dropped capabilities and resource limits, running Xvfb as the
// session's private display.
type dockerJail struct {
	cli         *client.Client
	cfg         config.DockerConfig
	containerID string
	log         *zap.Logger
}

func dockerFactory(cfg config.DockerConfig, logger *zap.Logger) Factory {
	return func(ctx context.Context) (Backend, error) {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("create docker client: %w", err)
		}

		startCtx := ctx
		if cfg.StartTimeout > 0 {
			var cancel context.CancelFunc
			startCtx, cancel = context.WithTimeout(ctx, cfg.StartTimeout)
			defer cancel()
		}

		b := &dockerJail{cli: cli, cfg: cfg, log: logger.Named("sandbox.docker")}
		if err := b.start(startCtx); err != nil {
			return nil, err
		}
		return b, nil
	}
}

func (b *dockerJail) start(ctx context.Context) error {
	containerCfg := &container.Config{
		Image: b.cfg.Image,
		Cmd:   []string{"sleep", "infinity"},
		Env:   []string{"DISPLAY=" + dockerDisplay},
	}
	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:    b.cfg.MemoryMB * 1024 * 1024,
			CPUQuota:  b.cfg.CPUQuota,
			PidsLimit: &b.cfg.PidsLimit,
		},
	}

	resp, err := b.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	b.containerID = resp.ID

	if err := b.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if removeErr := b.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); removeErr != nil {
			b.log.Warn("Failed to remove container after start failure",
				zap.String("container_id", resp.ID), zap.Error(removeErr))
		}
		return fmt.Errorf("start container %s: %w", resp.ID, err)
	}

	// Bring up the jail's private display before handing the backend out.
	cmd := fmt.Sprintf("nohup Xvfb %s -screen 0 1920x1080x24 -ac >/dev/null 2>&1 & sleep 0.5", dockerDisplay)
	res, err := b.Exec(ctx, cmd, 30*time.Second)
	if err != nil {
		b.teardown(ctx)
		return fmt.Errorf("start xvfb in container: %w", err)
	}
	if res.ExitCode != 0 {
		b.teardown(ctx)
		return fmt.Errorf("xvfb start exited %d: %s", res.ExitCode, res.Stderr)
	}

	b.log.Info("Container jail started", zap.String("container_id", b.containerID))
	return nil
}

func (b *dockerJail) Kind() BackendKind   { return KindLocalProcess }
func (b *dockerJail) ID() string          { return b.containerID }
func (b *dockerJail) Display() string     { return dockerDisplay }
func (b *dockerJail) HourlyRate() float64 { return 0 }

func (b *dockerJail) Exec(ctx context.Context, command string, timeout time.Duration) (ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCfg := container.ExecOptions{
		Cmd:          []string{"sh", "-c", command},
		AttachStdout: true,
		AttachStderr: true,
		Env:          []string{"DISPLAY=" + dockerDisplay},
	}
	created, err := b.cli.ContainerExecCreate(ctx, b.containerID, execCfg)
	if err != nil {
		return ExecResult{}, fmt.Errorf("create exec in container %s: %w", b.containerID, err)
	}

	attach, err := b.cli.ContainerExecAttach(ctx, created.ID, container.ExecStartOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("attach exec %s: %w", created.ID, err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return ExecResult{}, fmt.Errorf("read exec output: %w", err)
	}

	inspect, err := b.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("inspect exec %s: %w", created.ID, err)
	}

	return ExecResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: inspect.ExitCode,
	}, nil
}

func (b *dockerJail) Upload(ctx context.Context, localPath, remotePath string) error {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read local file: %w", err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: filepath.Base(remotePath),
		Mode: 0o644,
		Size: int64(len(content)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header: %w", err)
	}
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("write tar body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}

	dest := filepath.Dir(remotePath)
	if err := b.cli.CopyToContainer(ctx, b.containerID, dest, &buf, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copy to container: %w", err)
	}
	return nil
}

func (b *dockerJail) Download(ctx context.Context, remotePath, localPath string) error {
	reader, _, err := b.cli.CopyFromContainer(ctx, b.containerID, remotePath)
	if err != nil {
		return fmt.Errorf("copy from container: %w", err)
	}
	defer reader.Close()

	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return fmt.Errorf("file %s not found in archive", remotePath)
		}
		if err != nil {
			return fmt.Errorf("read tar from container: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}
		if err := os.WriteFile(localPath, content, 0o644); err != nil {
			return fmt.Errorf("write local file: %w", err)
		}
		return nil
	}
}

func (b *dockerJail) Stop(ctx context.Context) error {
	return b.teardown(ctx)
}

// teardown stops and removes the container, tolerating a container that is
// already gone.
func (b *dockerJail) teardown(ctx context.Context) error {
	if b.containerID == "" {
		return nil
	}

	timeout := dockerStopTimeout
	if err := b.cli.ContainerStop(ctx, b.containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		if !errdefs.IsNotFound(err) {
			b.log.Debug("Container stop returned error, continuing to remove",
				zap.String("container_id", b.containerID), zap.Error(err))
		}
	}
	if err := b.cli.ContainerRemove(ctx, b.containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container %s: %w", b.containerID, err)
	}
	return nil
}
