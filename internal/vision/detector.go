package vision

import (
	"bytes"
	"image"

	"github.com/insightpulseai/hawk/api/schemas"
)

// Region thresholds for the heuristic detector. Frames smaller than these
// yield no elements of the corresponding kind.
const (
	titleMinHeight   = 100
	menuMinHeight    = 150
	buttonMinWidth   = 200
	buttonMinHeight  = 200
	contentMinWidth  = 100
	contentMinHeight = 200
)

// HeuristicDetector is the reference detection strategy: deterministic,
// dependent only on frame dimensions and fixed content-region heuristics.
// Production deployments substitute a model-backed schemas.Detector. Per the
// contract it never fails for a well-formed frame; anything it cannot read
// produces an empty graph, which the session treats as a retryable
// "target not found".
type HeuristicDetector struct{}

// NewHeuristicDetector returns the reference detector.
func NewHeuristicDetector() *HeuristicDetector { return &HeuristicDetector{} }

// Detect derives an element graph from the frame's dimensions.
func (d *HeuristicDetector) Detect(frame schemas.ScreenshotPayload) schemas.ElementGraph {
	w, h := frame.Resolution.W, frame.Resolution.H
	if w <= 0 || h <= 0 {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(frame.Frame))
		if err != nil {
			return schemas.ElementGraph{Elements: []schemas.Element{}, Relationships: []schemas.Relationship{}}
		}
		w, h = cfg.Width, cfg.Height
	}

	var elements []schemas.Element

	if h > titleMinHeight {
		elements = append(elements, schemas.Element{
			ID:   "elm_title",
			BBox: schemas.BoundingBox{X1: 0, Y1: 0, X2: w, Y2: 30},
			Text: "Application Window",
			Role: "container",
		})
	}
	if h > menuMinHeight {
		elements = append(elements, schemas.Element{
			ID:   "elm_menubar",
			BBox: schemas.BoundingBox{X1: 0, Y1: 30, X2: w, Y2: 60},
			Text: "File Edit View Help",
			Role: "menu",
		})
	}
	if w > buttonMinWidth && h > buttonMinHeight {
		elements = append(elements,
			schemas.Element{
				ID:   "elm_ok_btn",
				BBox: schemas.BoundingBox{X1: w - 200, Y1: h - 60, X2: w - 100, Y2: h - 30},
				Text: "OK",
				Role: "button",
			},
			schemas.Element{
				ID:   "elm_cancel_btn",
				BBox: schemas.BoundingBox{X1: w - 100, Y1: h - 60, X2: w - 10, Y2: h - 30},
				Text: "Cancel",
				Role: "button",
			},
		)
	}
	if w > contentMinWidth && h > contentMinHeight {
		elements = append(elements, schemas.Element{
			ID:   "elm_content",
			BBox: schemas.BoundingBox{X1: 10, Y1: 70, X2: w - 10, Y2: h - 70},
			Text: "",
			Role: "container",
		})
	}

	var relationships []schemas.Relationship
	if len(elements) >= 2 && elements[0].ID == "elm_title" && elements[1].ID == "elm_menubar" {
		relationships = append(relationships, schemas.Relationship{
			SourceID: "elm_title", Relation: "contains", TargetID: "elm_menubar",
		})
	}
	hasContent := false
	for _, e := range elements {
		if e.ID == "elm_content" {
			hasContent = true
			break
		}
	}
	if hasContent {
		for _, e := range elements {
			if e.Role == "button" {
				relationships = append(relationships, schemas.Relationship{
					SourceID: "elm_content", Relation: "contains", TargetID: e.ID,
				})
			}
		}
	}

	if elements == nil {
		elements = []schemas.Element{}
	}
	if relationships == nil {
		relationships = []schemas.Relationship{}
	}
	return schemas.ElementGraph{Elements: elements, Relationships: relationships}
}
