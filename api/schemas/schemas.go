// Package schemas defines the data structures shared between the Hawk engine
// components: task plans, detected UI elements, screenshots and execution traces.
package schemas

import (
	"encoding/json"
	"fmt"
	"time"
)

// Resolution is a screen size in pixels.
type Resolution struct {
	W int `json:"w"`
	H int `json:"h"`
}

// ScreenshotPayload carries one captured frame. It is ephemeral: the engine
// does not retain it beyond the perceive step unless it is explicitly logged.
type ScreenshotPayload struct {
	SessionID  string     `json:"session_id"`
	Timestamp  time.Time  `json:"timestamp"`
	Frame      []byte     `json:"frame"` // PNG bytes, base64 in JSON
	Resolution Resolution `json:"resolution"`
}

// BoundingBox is an element rectangle in screen coordinates [x1,y1,x2,y2].
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Center returns the midpoint of the box, the coordinate motor actions target.
func (b BoundingBox) Center() (int, int) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// MarshalJSON encodes the box in the wire format [x1, y1, x2, y2].
func (b BoundingBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]int{b.X1, b.Y1, b.X2, b.Y2})
}

// UnmarshalJSON accepts the [x1, y1, x2, y2] wire format.
func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	var coords [4]int
	if err := json.Unmarshal(data, &coords); err != nil {
		return fmt.Errorf("bounding box must be [x1, y1, x2, y2]: %w", err)
	}
	b.X1, b.Y1, b.X2, b.Y2 = coords[0], coords[1], coords[2], coords[3]
	return nil
}

// Element is a UI element detected in one frame. Its ID is stable only within
// the ElementGraph it came from; references must be re-resolved on every
// detection pass, never cached across frames.
type Element struct {
	ID   string      `json:"id"`
	BBox BoundingBox `json:"bbox"`
	Text string      `json:"text"`
	Role string      `json:"role"`
}

// Relationship links two elements within a single detection pass.
type Relationship struct {
	SourceID string `json:"source_id"`
	Relation string `json:"relation"`
	TargetID string `json:"target_id"`
}

// ElementGraph is the structural snapshot of one frame.
type ElementGraph struct {
	Elements      []Element      `json:"elements"`
	Relationships []Relationship `json:"relationships"`
}

// Action is the atomic operation a task step performs.
type Action string

const (
	ActionClick      Action = "click"
	ActionType       Action = "type"
	ActionKeypress   Action = "keypress"
	ActionWait       Action = "wait"
	ActionScreenshot Action = "screenshot"
)

// KeyList accepts either a single string or a list of strings on the wire,
// matching what remote planners tend to emit for the "keys" field.
type KeyList []string

func (k KeyList) MarshalJSON() ([]byte, error) {
	if len(k) == 1 {
		return json.Marshal(k[0])
	}
	return json.Marshal([]string(k))
}

func (k *KeyList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*k = KeyList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("keys must be a string or a list of strings: %w", err)
	}
	*k = KeyList(many)
	return nil
}

// TaskStep is one atomic action in a plan. Click steps require Target;
// type/keypress steps require Keys. Violations are validation errors surfaced
// by ValidatePlan, not runtime crashes.
type TaskStep struct {
	StepID string `json:"step_id"`
	Action Action `json:"action"`
	// Target references an element by detector id or, for template plans, by a
	// symbolic name resolved against element text at execution time.
	Target string `json:"target,omitempty"`
	Keys   KeyList `json:"keys,omitempty"`
	// Delay is the UI settle time in seconds applied after the step succeeds.
	Delay      float64 `json:"delay"`
	Confidence float64 `json:"confidence,omitempty"`
}

// SettleDelay returns the post-step settle time, defaulting to 100ms.
func (s TaskStep) SettleDelay() time.Duration {
	if s.Delay <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(s.Delay * float64(time.Second))
}

// TaskPlan is the ordered, declarative representation of what the engine will
// attempt. It is immutable once execution begins; a re-plan produces a new plan.
type TaskPlan struct {
	PlanID string     `json:"plan_id"`
	Goal   string     `json:"goal"`
	Steps  []TaskStep `json:"steps"`
}

// EventStatus is the outcome of a single step attempt.
type EventStatus string

const (
	StatusSuccess EventStatus = "success"
	StatusRetry   EventStatus = "retry"
	StatusFailure EventStatus = "failure"
)

// ActionEvent records one step attempt in the trace.
type ActionEvent struct {
	EventID   int64       `json:"event_id"`
	StepID    string      `json:"step_id"`
	Timestamp time.Time   `json:"timestamp"`
	Status    EventStatus `json:"status"`
	LatencyMS int64       `json:"latency_ms"`
	Error     string      `json:"error,omitempty"`
}

// ActionTrace is the append-only audit record of one session.
type ActionTrace struct {
	TraceID     string        `json:"trace_id"`
	SessionID   string        `json:"session_id"`
	Events      []ActionEvent `json:"events"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// NewActionTrace starts an empty trace for a session.
func NewActionTrace(traceID, sessionID string) *ActionTrace {
	return &ActionTrace{
		TraceID:   traceID,
		SessionID: sessionID,
		StartedAt: time.Now().UTC(),
	}
}

// NextEvent appends an event with the next monotonic event id and returns it.
func (t *ActionTrace) NextEvent(stepID string, status EventStatus, latency time.Duration, stepErr error) ActionEvent {
	ev := ActionEvent{
		EventID:   int64(len(t.Events) + 1),
		StepID:    stepID,
		Timestamp: time.Now().UTC(),
		Status:    status,
		LatencyMS: latency.Milliseconds(),
	}
	if stepErr != nil {
		ev.Error = stepErr.Error()
	}
	t.Events = append(t.Events, ev)
	return ev
}

// MarkComplete sets the completion timestamp. It is set exactly once; later
// calls are no-ops.
func (t *ActionTrace) MarkComplete() {
	if t.CompletedAt != nil {
		return
	}
	now := time.Now().UTC()
	t.CompletedAt = &now
}
