// Package session implements the automation session lifecycle: acquire a
// sandbox, plan, execute the plan step by step with bounded retries, and
// guarantee teardown on every exit path.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/insightpulseai/hawk/api/schemas"
	"github.com/insightpulseai/hawk/internal/config"
	"github.com/insightpulseai/hawk/internal/motor"
	"github.com/insightpulseai/hawk/internal/planner"
	"github.com/insightpulseai/hawk/internal/sandbox"
	"github.com/insightpulseai/hawk/internal/vision"
)

// State is the session lifecycle phase. Transitions are strictly forward
// except Aborted, which is reachable from any non-terminal state.
type State string

const (
	StateCreated          State = "created"
	StateSandboxAcquiring State = "sandbox_acquiring"
	StatePlanning         State = "planning"
	StateExecuting        State = "executing"
	StateCompleting       State = "completing"
	StateClosed           State = "closed"
	StateAborted          State = "aborted"
)

// Perceptor observes the sandbox display. *vision.Driver satisfies it.
type Perceptor interface {
	Observe(ctx context.Context) (schemas.ScreenshotPayload, schemas.ElementGraph, error)
	ResolveTarget(graph schemas.ElementGraph, target string, prev *schemas.Element) (schemas.Element, bool)
	WaitForElement(ctx context.Context, target string, timeout time.Duration) (schemas.Element, error)
}

// Actuator synthesizes input on the sandbox display. *motor.Motor satisfies it.
type Actuator interface {
	Click(ctx context.Context, target schemas.BoundingBox) error
	TypeText(ctx context.Context, text string) error
	PressKeys(ctx context.Context, keys []string) error
}

// Recorder persists the session's audit artifacts. *trace.Recorder satisfies it.
type Recorder interface {
	LogEvent(ev schemas.ActionEvent)
	SaveTrace(trace *schemas.ActionTrace) (string, error)
	SaveScreenshot(stepID string, shot *schemas.ScreenshotPayload) (string, error)
	Close() error
}

// StepError reports a step that exhausted its retry budget.
type StepError struct {
	StepID   string
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed after %d attempts: %v", e.StepID, e.Attempts, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Session drives one goal from plan to verified completion inside one sandbox.
// It is not safe for concurrent use; one goroutine owns a session.
type Session struct {
	ID string

	cfg      *config.Config
	log      *zap.Logger
	mgr      *sandbox.Manager
	planner  schemas.Planner
	recorder Recorder

	// Factories let tests substitute perception and actuation without a live
	// sandbox. The defaults build the vision driver and motor over the handle.
	perceptorFor func(h *sandbox.Handle) Perceptor
	actuatorFor  func(h *sandbox.Handle) Actuator

	state     State
	handle    *sandbox.Handle
	perceptor Perceptor
	actuator  Actuator
	trace     *schemas.ActionTrace
	plan      *schemas.TaskPlan

	// lastSeen caches the most recently resolved element per target, used only
	// as a re-identification hint. Ids inside are never trusted across frames.
	lastSeen map[string]schemas.Element

	closeOnce sync.Once
}

// Option customizes a session at construction.
type Option func(*Session)

// WithID pins the session id instead of minting one. Used when the caller
// must create artifacts keyed by the id before the session exists.
func WithID(id string) Option {
	return func(s *Session) {
		s.ID = id
		s.trace.SessionID = id
	}
}

// WithPerceptorFactory overrides how the perception layer is built.
func WithPerceptorFactory(f func(h *sandbox.Handle) Perceptor) Option {
	return func(s *Session) { s.perceptorFor = f }
}

// WithActuatorFactory overrides how the actuation layer is built.
func WithActuatorFactory(f func(h *sandbox.Handle) Actuator) Option {
	return func(s *Session) { s.actuatorFor = f }
}

// New creates a session in the Created state.
func New(cfg *config.Config, mgr *sandbox.Manager, pl schemas.Planner, rec Recorder, logger *zap.Logger, opts ...Option) *Session {
	id := NewSessionID()
	s := &Session{
		ID:       id,
		cfg:      cfg,
		mgr:      mgr,
		planner:  pl,
		recorder: rec,
		state:    StateCreated,
		trace:    schemas.NewActionTrace(NewTraceID(), id),
		lastSeen: make(map[string]schemas.Element),
	}
	s.perceptorFor = func(h *sandbox.Handle) Perceptor {
		capture := vision.NewScreenCapture(s.ID, h, h.Display(), cfg.Capture, logger)
		return vision.NewDriver(capture, vision.NewHeuristicDetector(), cfg.Session.WaitPollInterval, logger)
	}
	s.actuatorFor = func(h *sandbox.Handle) Actuator {
		return motor.New(h, h.Display(), cfg.Motor, logger)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.Named("session").With(zap.String("session_id", s.ID))
	return s
}

// NewSessionID mints a session id of the form hawk-YYYYMMDD-xxxxxx.
func NewSessionID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("hawk-%s-%s", time.Now().UTC().Format("20060102"), suffix)
}

// NewTraceID mints a trace id.
func NewTraceID() string {
	return "trace_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// State returns the current lifecycle phase.
func (s *Session) State() State { return s.state }

// Trace returns the session's trace document.
func (s *Session) Trace() *schemas.ActionTrace { return s.trace }

// Handle returns the acquired sandbox handle, nil before Start.
func (s *Session) Handle() *sandbox.Handle { return s.handle }

func (s *Session) setState(next State) {
	s.log.Info("Session state changed",
		zap.String("from", string(s.state)),
		zap.String("to", string(next)),
	)
	s.state = next
}

// Start acquires the sandbox and readies the perception and actuation layers.
// On failure the session is aborted and torn down.
func (s *Session) Start(ctx context.Context) error {
	if s.state != StateCreated {
		return fmt.Errorf("session already started (state %s)", s.state)
	}
	s.setState(StateSandboxAcquiring)

	h, err := s.mgr.Start(ctx)
	if err != nil {
		s.abort(ctx, err)
		return fmt.Errorf("acquire sandbox: %w", err)
	}
	s.handle = h
	s.perceptor = s.perceptorFor(h)
	s.actuator = s.actuatorFor(h)

	s.setState(StatePlanning)
	return nil
}

// Plan decomposes a goal without executing it.
func (s *Session) Plan(ctx context.Context, goal string) (*schemas.TaskPlan, error) {
	return s.planner.Plan(ctx, goal)
}

// Run plans and executes the goal. It returns true only when every step
// succeeded; on any other path the session is aborted. Teardown happens on
// every path, including panics in actuation.
func (s *Session) Run(ctx context.Context, goal string) bool {
	if s.state != StatePlanning {
		s.log.Error("Run called in invalid state", zap.String("state", string(s.state)))
		return false
	}
	defer s.Close(context.WithoutCancel(ctx))

	plan, err := s.planner.Plan(ctx, goal)
	if err != nil {
		s.log.Error("Planning failed", zap.Error(err))
		s.abort(ctx, err)
		return false
	}
	if errs := planner.ValidatePlan(plan); len(errs) > 0 {
		s.log.Error("Refusing invalid plan", zap.Strings("errors", errs))
		s.abort(ctx, fmt.Errorf("invalid plan: %s", strings.Join(errs, "; ")))
		return false
	}
	s.plan = plan
	s.log.Info("Plan accepted", zap.String("plan_id", plan.PlanID), zap.Int("steps", len(plan.Steps)))

	s.setState(StateExecuting)
	for _, step := range plan.Steps {
		if err := s.executeStep(ctx, step); err != nil {
			s.log.Error("Step exhausted retries, aborting session",
				zap.String("step_id", step.StepID), zap.Error(err))
			s.abort(ctx, err)
			return false
		}
	}

	s.setState(StateCompleting)
	return true
}

// executeStep runs one step with the configured retry budget. Each attempt
// re-observes the screen; elements are never reused across attempts. The
// first budget-1 failures log a retry event, the final one a failure event.
func (s *Session) executeStep(ctx context.Context, step schemas.TaskStep) error {
	budget := s.cfg.Session.MaxRetries
	if budget <= 0 {
		budget = 3
	}

	var lastErr error
	for attempt := 1; attempt <= budget; attempt++ {
		start := time.Now()
		err := s.attempt(ctx, step)
		latency := time.Since(start)

		if err == nil {
			ev := s.trace.NextEvent(step.StepID, schemas.StatusSuccess, latency, nil)
			s.recorder.LogEvent(ev)
			s.log.Info("Step succeeded",
				zap.String("step_id", step.StepID),
				zap.String("action", string(step.Action)),
				zap.Int("attempt", attempt),
				zap.Duration("latency", latency),
			)
			return s.settle(ctx, step)
		}

		lastErr = err
		status := schemas.StatusRetry
		if attempt == budget {
			status = schemas.StatusFailure
		}
		ev := s.trace.NextEvent(step.StepID, status, latency, err)
		s.recorder.LogEvent(ev)
		s.log.Warn("Step attempt failed",
			zap.String("step_id", step.StepID),
			zap.String("action", string(step.Action)),
			zap.Int("attempt", attempt),
			zap.String("status", string(status)),
			zap.Error(err),
		)

		if attempt < budget {
			if err := s.sleep(ctx, s.cfg.Session.RetryBackoff); err != nil {
				return &StepError{StepID: step.StepID, Attempts: attempt, Err: err}
			}
		}
	}
	return &StepError{StepID: step.StepID, Attempts: budget, Err: lastErr}
}

// attempt performs one try of a step against the current frame.
func (s *Session) attempt(ctx context.Context, step schemas.TaskStep) error {
	switch step.Action {
	case schemas.ActionClick:
		_, graph, err := s.perceptor.Observe(ctx)
		if err != nil {
			return fmt.Errorf("observe: %w", err)
		}
		var prev *schemas.Element
		if seen, ok := s.lastSeen[step.Target]; ok {
			prev = &seen
		}
		elem, ok := s.perceptor.ResolveTarget(graph, step.Target, prev)
		if !ok {
			return fmt.Errorf("target %q not found on screen", step.Target)
		}
		s.lastSeen[step.Target] = elem
		return s.actuator.Click(ctx, elem.BBox)

	case schemas.ActionType:
		return s.actuator.TypeText(ctx, strings.Join(step.Keys, ""))

	case schemas.ActionKeypress:
		return s.actuator.PressKeys(ctx, step.Keys)

	case schemas.ActionWait:
		// The settle delay after a successful attempt is the wait itself.
		return nil

	case schemas.ActionScreenshot:
		frame, _, err := s.perceptor.Observe(ctx)
		if err != nil {
			return fmt.Errorf("observe: %w", err)
		}
		_, err = s.recorder.SaveScreenshot(step.StepID, &frame)
		return err

	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
}

// settle applies the post-step UI settle delay.
func (s *Session) settle(ctx context.Context, step schemas.TaskStep) error {
	return s.sleep(ctx, step.SettleDelay())
}

func (s *Session) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Session) abort(ctx context.Context, cause error) {
	if s.state == StateClosed || s.state == StateAborted {
		return
	}
	s.log.Warn("Session aborted", zap.Error(cause))
	s.setState(StateAborted)
	s.Close(context.WithoutCancel(ctx))
}

// Close finalizes the trace and releases the sandbox. It is idempotent and
// safe on every exit path; the sandbox is stopped exactly once.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.trace.MarkComplete()

		if s.recorder != nil {
			if _, err := s.recorder.SaveTrace(s.trace); err != nil {
				s.log.Error("Failed to save trace", zap.Error(err))
			}
			if err := s.recorder.Close(); err != nil {
				s.log.Warn("Failed to close trace recorder", zap.Error(err))
			}
		}

		if s.handle != nil {
			if err := s.mgr.Stop(ctx, s.handle); err != nil {
				s.log.Warn("Sandbox stop failed", zap.Error(err))
			}
			if cost := s.handle.CostEstimate(); cost > 0 {
				s.log.Info("Session cost", zap.Float64("usd", cost))
			}
		}

		if s.state != StateAborted {
			s.setState(StateClosed)
		}
	})
}
