// Package vision implements the perception pipeline: rate-limited screen
// capture through the sandbox exec contract and heuristic element detection.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/png"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/insightpulseai/hawk/api/schemas"
	"github.com/insightpulseai/hawk/internal/config"
	"github.com/insightpulseai/hawk/internal/sandbox"
)

// Runner executes commands in the session's sandbox. *sandbox.Handle
// satisfies it.
type Runner interface {
	Exec(ctx context.Context, command string, timeout time.Duration) (sandbox.ExecResult, error)
}

// ScreenCapture grabs frames from the sandbox display. Calls are throttled to
// the configured target frequency: a capture never happens sooner than one
// frame interval after the previous one, though it may happen later under
// load. Failures propagate; retry policy belongs to the caller.
type ScreenCapture struct {
	sessionID string
	runner    Runner
	display   string
	limiter   *rate.Limiter
	timeout   time.Duration
	log       *zap.Logger
}

// NewScreenCapture builds a capturer bound to one sandbox display.
func NewScreenCapture(sessionID string, runner Runner, display string, cfg config.CaptureConfig, logger *zap.Logger) *ScreenCapture {
	interval := time.Second / time.Duration(cfg.FPSTarget)
	return &ScreenCapture{
		sessionID: sessionID,
		runner:    runner,
		display:   display,
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
		timeout:   cfg.Timeout,
		log:       logger.Named("capture"),
	}
}

// Capture grabs one frame, optionally cropped to region.
func (c *ScreenCapture) Capture(ctx context.Context, region *schemas.BoundingBox) (schemas.ScreenshotPayload, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return schemas.ScreenshotPayload{}, fmt.Errorf("capture rate limiter: %w", err)
	}

	cmd := c.grabCommand(region)
	res, err := c.runner.Exec(ctx, cmd, c.timeout)
	if err != nil {
		return schemas.ScreenshotPayload{}, fmt.Errorf("capture exec: %w", err)
	}
	if res.ExitCode != 0 {
		return schemas.ScreenshotPayload{}, fmt.Errorf("capture command exited %d: %s", res.ExitCode, res.Stderr)
	}

	frame, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(res.Stdout)))
	if err != nil {
		return schemas.ScreenshotPayload{}, fmt.Errorf("decode captured frame: %w", err)
	}

	cfgImg, _, err := image.DecodeConfig(bytes.NewReader(frame))
	if err != nil {
		return schemas.ScreenshotPayload{}, fmt.Errorf("parse captured frame: %w", err)
	}

	return schemas.ScreenshotPayload{
		SessionID:  c.sessionID,
		Timestamp:  time.Now().UTC(),
		Frame:      frame,
		Resolution: schemas.Resolution{W: cfgImg.Width, H: cfgImg.Height},
	}, nil
}

// grabCommand builds the ImageMagick grab piped through base64, so the frame
// survives the text-only exec contract of every backend.
func (c *ScreenCapture) grabCommand(region *schemas.BoundingBox) string {
	var sb strings.Builder
	if c.display != "" {
		fmt.Fprintf(&sb, "DISPLAY=%s ", c.display)
	}
	sb.WriteString("import -silent -window root")
	if region != nil {
		w := region.X2 - region.X1
		h := region.Y2 - region.Y1
		fmt.Fprintf(&sb, " -crop %dx%d+%d+%d +repage", w, h, region.X1, region.Y1)
	}
	sb.WriteString(" png:- | base64 -w0")
	return sb.String()
}
