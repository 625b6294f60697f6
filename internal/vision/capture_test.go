package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/insightpulseai/hawk/api/schemas"
	"github.com/insightpulseai/hawk/internal/config"
	"github.com/insightpulseai/hawk/internal/sandbox"
)

// fakeRunner records every command and replays a canned result.
type fakeRunner struct {
	commands []string
	result   sandbox.ExecResult
	err      error
}

func (f *fakeRunner) Exec(ctx context.Context, command string, timeout time.Duration) (sandbox.ExecResult, error) {
	f.commands = append(f.commands, command)
	return f.result, f.err
}

func frameRunner(t *testing.T, w, h int) *fakeRunner {
	t.Helper()
	encoded := base64.StdEncoding.EncodeToString(encodePNG(t, w, h))
	return &fakeRunner{result: sandbox.ExecResult{Stdout: []byte(encoded + "\n")}}
}

func captureConfig(fps int) config.CaptureConfig {
	return config.CaptureConfig{FPSTarget: fps, Timeout: 5 * time.Second}
}

func TestScreenCapture_Capture(t *testing.T) {
	runner := frameRunner(t, 640, 480)
	cap := NewScreenCapture("hawk-test", runner, ":99", captureConfig(30), zap.NewNop())

	shot, err := cap.Capture(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, "hawk-test", shot.SessionID)
	assert.Equal(t, schemas.Resolution{W: 640, H: 480}, shot.Resolution)
	assert.NotEmpty(t, shot.Frame)

	require.Len(t, runner.commands, 1)
	assert.Equal(t, "DISPLAY=:99 import -silent -window root png:- | base64 -w0", runner.commands[0])
}

func TestScreenCapture_CaptureRegion(t *testing.T) {
	runner := frameRunner(t, 200, 100)
	cap := NewScreenCapture("hawk-test", runner, ":99", captureConfig(30), zap.NewNop())

	_, err := cap.Capture(context.Background(), &schemas.BoundingBox{X1: 10, Y1: 20, X2: 210, Y2: 120})
	require.NoError(t, err)

	require.Len(t, runner.commands, 1)
	assert.Contains(t, runner.commands[0], "-crop 200x100+10+20 +repage")
}

func TestScreenCapture_RateLimit(t *testing.T) {
	// 20 fps target: consecutive captures are spaced at least 50ms apart, so
	// three captures (the first is a free burst token) take at least 100ms.
	runner := frameRunner(t, 64, 64)
	cap := NewScreenCapture("hawk-test", runner, ":99", captureConfig(20), zap.NewNop())

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := cap.Capture(context.Background(), nil)
		require.NoError(t, err)
	}
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond, "captures must not exceed the configured frequency")
}

func TestScreenCapture_Failures(t *testing.T) {
	t.Run("exec error propagates", func(t *testing.T) {
		runner := &fakeRunner{err: errors.New("sandbox gone")}
		cap := NewScreenCapture("hawk-test", runner, ":99", captureConfig(30), zap.NewNop())
		_, err := cap.Capture(context.Background(), nil)
		assert.ErrorContains(t, err, "sandbox gone")
	})

	t.Run("nonzero exit propagates", func(t *testing.T) {
		runner := &fakeRunner{result: sandbox.ExecResult{ExitCode: 1, Stderr: []byte("import: unable to grab")}}
		cap := NewScreenCapture("hawk-test", runner, ":99", captureConfig(30), zap.NewNop())
		_, err := cap.Capture(context.Background(), nil)
		assert.ErrorContains(t, err, "exited 1")
	})

	t.Run("garbage output is an error", func(t *testing.T) {
		runner := &fakeRunner{result: sandbox.ExecResult{Stdout: []byte("!!! not base64 !!!")}}
		cap := NewScreenCapture("hawk-test", runner, ":99", captureConfig(30), zap.NewNop())
		_, err := cap.Capture(context.Background(), nil)
		assert.Error(t, err)
	})
}
