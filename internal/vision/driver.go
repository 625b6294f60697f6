package vision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/insightpulseai/hawk/api/schemas"
)

// Driver coordinates capture and detection for one session. Element ids are
// only valid within the graph of a single detection pass, so the driver
// re-observes and re-resolves on every attempt rather than caching ids
// across frames.
type Driver struct {
	capture  schemas.Capturer
	detector schemas.Detector
	poll     time.Duration
	log      *zap.Logger
}

// NewDriver wires a capturer and a detector together.
func NewDriver(capture schemas.Capturer, detector schemas.Detector, pollInterval time.Duration, logger *zap.Logger) *Driver {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Driver{
		capture:  capture,
		detector: detector,
		poll:     pollInterval,
		log:      logger.Named("vision"),
	}
}

// Observe captures one frame and detects its elements.
func (d *Driver) Observe(ctx context.Context) (schemas.ScreenshotPayload, schemas.ElementGraph, error) {
	frame, err := d.capture.Capture(ctx, nil)
	if err != nil {
		return schemas.ScreenshotPayload{}, schemas.ElementGraph{}, err
	}
	return frame, d.detector.Detect(frame), nil
}

// ResolveTarget finds the element a step target refers to within one graph.
//
// Re-identification across frames is intentionally not id-based: ids are
// per-pass. Resolution order is exact id match, then normalized text match,
// then (when a previous bounding box is known) the same-role element whose
// center is nearest the previous center.
func (d *Driver) ResolveTarget(graph schemas.ElementGraph, target string, prev *schemas.Element) (schemas.Element, bool) {
	for _, e := range graph.Elements {
		if e.ID == target {
			return e, true
		}
	}

	if tokens := targetTokens(target); len(tokens) > 0 {
		for _, e := range graph.Elements {
			if e.Text == "" {
				continue
			}
			if matchesTokens(strings.ToLower(e.Text), tokens) {
				return e, true
			}
		}
	}

	if prev != nil {
		if e, ok := nearestByRole(graph, prev); ok {
			return e, true
		}
	}
	return schemas.Element{}, false
}

// genericTokens are widget-kind words in symbolic targets ("file_menu",
// "ok_btn") that carry no matchable text of their own.
var genericTokens = map[string]bool{
	"menu": true, "menubar": true, "button": true, "btn": true,
	"option": true, "field": true, "input": true, "dialog": true,
	"window": true, "tab": true,
}

// targetTokens turns a symbolic name like "elm_file_menu" into the lowercase
// tokens that must appear in an element's text for it to match. Names made
// purely of generic widget words yield nothing.
func targetTokens(target string) []string {
	t := strings.TrimPrefix(strings.ToLower(target), "elm_")
	var tokens []string
	for _, tok := range strings.FieldsFunc(t, func(r rune) bool { return r == '_' || r == ' ' }) {
		if !genericTokens[tok] {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

func matchesTokens(text string, tokens []string) bool {
	for _, tok := range tokens {
		if !strings.Contains(text, tok) {
			return false
		}
	}
	return true
}

func nearestByRole(graph schemas.ElementGraph, prev *schemas.Element) (schemas.Element, bool) {
	px, py := prev.BBox.Center()
	best := -1
	bestDist := int64(-1)
	for i, e := range graph.Elements {
		if e.Role != prev.Role {
			continue
		}
		cx, cy := e.BBox.Center()
		dx, dy := int64(cx-px), int64(cy-py)
		dist := dx*dx + dy*dy
		if bestDist < 0 || dist < bestDist {
			best, bestDist = i, dist
		}
	}
	if best < 0 {
		return schemas.Element{}, false
	}
	return graph.Elements[best], true
}

// FindByText returns the elements whose text contains the given string,
// case-insensitively.
func FindByText(graph schemas.ElementGraph, text string) []schemas.Element {
	needle := strings.ToLower(text)
	var matches []schemas.Element
	for _, e := range graph.Elements {
		if strings.Contains(strings.ToLower(e.Text), needle) {
			matches = append(matches, e)
		}
	}
	return matches
}

// FindByRole returns the elements with the given role.
func FindByRole(graph schemas.ElementGraph, role string) []schemas.Element {
	var matches []schemas.Element
	for _, e := range graph.Elements {
		if e.Role == role {
			matches = append(matches, e)
		}
	}
	return matches
}

// WaitForElement polls capture+detect until the target resolves or the
// timeout elapses. The polling interval is fixed.
func (d *Driver) WaitForElement(ctx context.Context, target string, timeout time.Duration) (schemas.Element, error) {
	deadline := time.Now().Add(timeout)
	for {
		_, graph, err := d.Observe(ctx)
		if err == nil {
			if e, ok := d.ResolveTarget(graph, target, nil); ok {
				return e, nil
			}
		} else {
			d.log.Debug("Observe failed while waiting for element", zap.String("target", target), zap.Error(err))
		}

		if time.Now().After(deadline) {
			return schemas.Element{}, fmt.Errorf("element %q did not appear within %s", target, timeout)
		}
		select {
		case <-ctx.Done():
			return schemas.Element{}, ctx.Err()
		case <-time.After(d.poll):
		}
	}
}
