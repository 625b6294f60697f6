package schemas

import "context"

// Planner converts a natural language goal into an ordered task plan. A
// conforming implementation never returns a nil plan without an error, and for
// any non-empty goal the fallback chain guarantees at least one step.
type Planner interface {
	Plan(ctx context.Context, goal string) (*TaskPlan, error)
}

// Detector converts a captured frame into an element graph. It must return
// within a bounded time and must not fail for a well-formed frame; on internal
// failure it returns an empty graph, because the session layer treats "target
// not found" as retryable rather than fatal.
type Detector interface {
	Detect(frame ScreenshotPayload) ElementGraph
}

// Capturer grabs a frame of the target display at a bounded rate. Failures
// propagate to the caller, which owns retry policy.
type Capturer interface {
	Capture(ctx context.Context, region *BoundingBox) (ScreenshotPayload, error)
}

// GenerationRequest is one prompt exchange with a remote model backend.
type GenerationRequest struct {
	SystemPrompt    string
	UserPrompt      string
	ForceJSONFormat bool
}

// LLMClient is the remote model backend used by the planner's middle tier.
type LLMClient interface {
	GenerateResponse(ctx context.Context, req GenerationRequest) (string, error)
}
