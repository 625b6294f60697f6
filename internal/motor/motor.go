// Package motor synthesizes mouse and keyboard input. Actions are translated
// into xdotool invocations routed through the active sandbox's exec contract,
// so the same code drives a remote micro-VM display, a local container jail
// or the host desktop. The motor has no retry logic; retry belongs to the
// session.
package motor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/insightpulseai/hawk/api/schemas"
	"github.com/insightpulseai/hawk/internal/config"
	"github.com/insightpulseai/hawk/internal/sandbox"
)

// Runner executes commands in the session's sandbox. *sandbox.Handle
// satisfies it.
type Runner interface {
	Exec(ctx context.Context, command string, timeout time.Duration) (sandbox.ExecResult, error)
}

// Motor drives synthesized input against one display.
type Motor struct {
	runner  Runner
	display string
	cfg     config.MotorConfig
	log     *zap.Logger
}

// New builds a motor bound to the given sandbox display.
func New(runner Runner, display string, cfg config.MotorConfig, logger *zap.Logger) *Motor {
	return &Motor{
		runner:  runner,
		display: display,
		cfg:     cfg,
		log:     logger.Named("motor"),
	}
}

func (m *Motor) run(ctx context.Context, args ...string) error {
	var sb strings.Builder
	if m.display != "" {
		fmt.Fprintf(&sb, "DISPLAY=%s ", m.display)
	}
	sb.WriteString("xdotool ")
	sb.WriteString(strings.Join(args, " "))
	command := sb.String()

	res, err := m.runner.Exec(ctx, command, m.cfg.ActionTimeout)
	if err != nil {
		return fmt.Errorf("input synthesis: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("input command exited %d: %s", res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	return nil
}

// Click moves to the center of the target box and presses the left button.
func (m *Motor) Click(ctx context.Context, target schemas.BoundingBox) error {
	return m.clickButton(ctx, target, 1, 1)
}

// DoubleClick sends two rapid left clicks at the target center.
func (m *Motor) DoubleClick(ctx context.Context, target schemas.BoundingBox) error {
	return m.clickButton(ctx, target, 1, 2)
}

// RightClick presses the right button at the target center.
func (m *Motor) RightClick(ctx context.Context, target schemas.BoundingBox) error {
	return m.clickButton(ctx, target, 3, 1)
}

func (m *Motor) clickButton(ctx context.Context, target schemas.BoundingBox, button, repeat int) error {
	x, y := target.Center()
	m.log.Debug("Click", zap.Int("x", x), zap.Int("y", y), zap.Int("button", button), zap.Int("repeat", repeat))
	args := []string{"mousemove", strconv.Itoa(x), strconv.Itoa(y), "click"}
	if repeat > 1 {
		args = append(args, "--repeat", strconv.Itoa(repeat), "--delay", "50")
	}
	args = append(args, strconv.Itoa(button))
	return m.run(ctx, args...)
}

// ClickAt clicks literal screen coordinates.
func (m *Motor) ClickAt(ctx context.Context, x, y int) error {
	return m.Click(ctx, schemas.BoundingBox{X1: x, Y1: y, X2: x, Y2: y})
}

// TypeText types text with a fixed inter-keystroke interval.
func (m *Motor) TypeText(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	m.log.Debug("Type", zap.Int("chars", len(text)))
	interval := m.cfg.TypingInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return m.run(ctx, "type", "--delay", strconv.FormatInt(interval.Milliseconds(), 10), shellQuote(text))
}

// PressKeys presses each key (or '+'-joined chord) in sequence. Chord parts
// are normalized through the symbolic key map and sent simultaneously.
func (m *Motor) PressKeys(ctx context.Context, keys []string) error {
	for _, key := range keys {
		chord := normalizeChord(key)
		m.log.Debug("Keypress", zap.String("chord", chord))
		if err := m.run(ctx, "key", chord); err != nil {
			return err
		}
	}
	return nil
}

// Hotkey presses the given keys as one simultaneous chord.
func (m *Motor) Hotkey(ctx context.Context, keys ...string) error {
	return m.PressKeys(ctx, []string{strings.Join(keys, "+")})
}

// Drag holds the left button from the start center to the end center.
func (m *Motor) Drag(ctx context.Context, start, end schemas.BoundingBox) error {
	sx, sy := start.Center()
	ex, ey := end.Center()
	m.log.Debug("Drag", zap.Int("from_x", sx), zap.Int("from_y", sy), zap.Int("to_x", ex), zap.Int("to_y", ey))
	return m.run(ctx,
		"mousemove", strconv.Itoa(sx), strconv.Itoa(sy),
		"mousedown", "1",
		"mousemove", "--sync", strconv.Itoa(ex), strconv.Itoa(ey),
		"mouseup", "1",
	)
}

// Scroll turns the wheel; positive clicks scroll up, negative scroll down.
func (m *Motor) Scroll(ctx context.Context, clicks int) error {
	if clicks == 0 {
		return nil
	}
	button := 4 // wheel up
	if clicks < 0 {
		button = 5
		clicks = -clicks
	}
	m.log.Debug("Scroll", zap.Int("clicks", clicks), zap.Int("button", button))
	return m.run(ctx, "click", "--repeat", strconv.Itoa(clicks), "--delay", "30", strconv.Itoa(button))
}

// MoveTo moves the pointer without clicking.
func (m *Motor) MoveTo(ctx context.Context, x, y int) error {
	return m.run(ctx, "mousemove", strconv.Itoa(x), strconv.Itoa(y))
}

// CursorPosition queries the current pointer location.
func (m *Motor) CursorPosition(ctx context.Context) (int, int, error) {
	var sb strings.Builder
	if m.display != "" {
		fmt.Fprintf(&sb, "DISPLAY=%s ", m.display)
	}
	sb.WriteString("xdotool getmouselocation --shell")

	res, err := m.runner.Exec(ctx, sb.String(), m.cfg.ActionTimeout)
	if err != nil {
		return 0, 0, fmt.Errorf("query cursor position: %w", err)
	}
	if res.ExitCode != 0 {
		return 0, 0, fmt.Errorf("getmouselocation exited %d: %s", res.ExitCode, res.Stderr)
	}

	x, y := -1, -1
	for _, line := range strings.Split(string(res.Stdout), "\n") {
		if v, ok := strings.CutPrefix(line, "X="); ok {
			x, _ = strconv.Atoi(strings.TrimSpace(v))
		}
		if v, ok := strings.CutPrefix(line, "Y="); ok {
			y, _ = strconv.Atoi(strings.TrimSpace(v))
		}
	}
	if x < 0 || y < 0 {
		return 0, 0, fmt.Errorf("unparseable getmouselocation output: %q", res.Stdout)
	}
	return x, y, nil
}

// shellQuote wraps s in single quotes safe for sh -c.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
