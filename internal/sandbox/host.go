package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// hostShell runs commands directly on the host with no isolation at all. It
// is the last tier of the chain and only reachable with the explicit
// unsandboxed opt-in.
type hostShell struct {
	hostname string
	display  string
	log      *zap.Logger
}

func hostFactory(logger *zap.Logger) Factory {
	return func(ctx context.Context) (Backend, error) {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "localhost"
		}
		logger.Named("sandbox.host").Warn("Running WITHOUT isolation; actions reach the real desktop")
		return &hostShell{
			hostname: hostname,
			display:  os.Getenv("DISPLAY"),
			log:      logger.Named("sandbox.host"),
		}, nil
	}
}

func (b *hostShell) Kind() BackendKind   { return KindNone }
func (b *hostShell) ID() string          { return b.hostname }
func (b *hostShell) Display() string     { return b.display }
func (b *hostShell) HourlyRate() float64 { return 0 }

func (b *hostShell) Exec(ctx context.Context, command string, timeout time.Duration) (ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := ExecResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, err
	}
	return res, nil
}

func (b *hostShell) Upload(ctx context.Context, localPath, remotePath string) error {
	return ErrTransferUnsupported
}

func (b *hostShell) Download(ctx context.Context, remotePath, localPath string) error {
	return ErrTransferUnsupported
}

func (b *hostShell) Stop(ctx context.Context) error { return nil }
