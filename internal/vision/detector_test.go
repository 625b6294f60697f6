package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightpulseai/hawk/api/schemas"
)

// encodePNG renders a solid frame of the given size.
func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 30, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func elementIDs(graph schemas.ElementGraph) []string {
	ids := make([]string, 0, len(graph.Elements))
	for _, e := range graph.Elements {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestHeuristicDetector_FullDesktop(t *testing.T) {
	d := NewHeuristicDetector()
	graph := d.Detect(schemas.ScreenshotPayload{
		Resolution: schemas.Resolution{W: 1920, H: 1080},
	})

	assert.ElementsMatch(t,
		[]string{"elm_title", "elm_menubar", "elm_ok_btn", "elm_cancel_btn", "elm_content"},
		elementIDs(graph),
	)

	assert.Contains(t, graph.Relationships, schemas.Relationship{
		SourceID: "elm_title", Relation: "contains", TargetID: "elm_menubar",
	})
	assert.Contains(t, graph.Relationships, schemas.Relationship{
		SourceID: "elm_content", Relation: "contains", TargetID: "elm_ok_btn",
	})

	// Buttons sit in the bottom-right corner of the frame.
	for _, e := range graph.Elements {
		if e.Role != "button" {
			continue
		}
		assert.Greater(t, e.BBox.X1, 1600, "button %s should be on the right edge", e.ID)
		assert.Greater(t, e.BBox.Y1, 1000, "button %s should be near the bottom", e.ID)
	}
}

func TestHeuristicDetector_TinyFrame(t *testing.T) {
	d := NewHeuristicDetector()
	graph := d.Detect(schemas.ScreenshotPayload{
		Resolution: schemas.Resolution{W: 50, H: 50},
	})

	require.NotNil(t, graph.Elements)
	require.NotNil(t, graph.Relationships)
	assert.Empty(t, graph.Elements)
	assert.Empty(t, graph.Relationships)
}

func TestHeuristicDetector_ResolutionFromFrame(t *testing.T) {
	// Resolution missing from the payload is recovered from the PNG itself.
	d := NewHeuristicDetector()
	graph := d.Detect(schemas.ScreenshotPayload{
		Frame: encodePNG(t, 800, 600),
	})

	assert.Contains(t, elementIDs(graph), "elm_title")
	assert.Contains(t, elementIDs(graph), "elm_content")
}

func TestHeuristicDetector_UnreadableFrame(t *testing.T) {
	d := NewHeuristicDetector()
	graph := d.Detect(schemas.ScreenshotPayload{
		Frame: []byte("definitely not a png"),
	})

	require.NotNil(t, graph.Elements)
	assert.Empty(t, graph.Elements)
}
