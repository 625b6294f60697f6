// Package planner turns natural language goals into executable task plans.
// Planning degrades through three tiers: goal templates, a remote model, and
// a keyword rule fallback. Every tier produces a syntactically valid plan, so
// planning itself never fails; it only gets less confident.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/insightpulseai/hawk/api/schemas"
	"github.com/insightpulseai/hawk/internal/config"
)

const systemPrompt = `You are a task planning agent for a desktop UI automation system.
Your role is to convert natural language goals into precise, executable task plan JSON.

Guidelines:
1. Break down complex tasks into atomic UI actions (click, type, keypress)
2. Identify specific UI elements by their visual characteristics
3. Include appropriate delays between actions for UI responsiveness
4. Add confidence scores based on action complexity
5. Prefer keyboard shortcuts when available for efficiency

Output only valid JSON matching this schema:
{
  "plan_id": "string",
  "goal": "string",
  "steps": [
    {
      "step_id": "string",
      "action": "click|type|keypress|wait|screenshot",
      "target": "element_id (for clicks)",
      "keys": "string or array (for type/keypress)",
      "delay": 0.1,
      "confidence": 0.0-1.0
    }
  ]
}`

// TaskPlanner implements schemas.Planner. The llm client may be nil, in which
// case the middle tier is skipped entirely.
type TaskPlanner struct {
	llm schemas.LLMClient
	cfg config.PlannerConfig
	log *zap.Logger
}

// New builds a planner. A nil llm is valid and means template + rule tiers only.
func New(llm schemas.LLMClient, cfg config.PlannerConfig, logger *zap.Logger) *TaskPlanner {
	return &TaskPlanner{
		llm: llm,
		cfg: cfg,
		log: logger.Named("planner"),
	}
}

// Plan decomposes a goal into a task plan, walking the tiers in order.
func (p *TaskPlanner) Plan(ctx context.Context, goal string) (*schemas.TaskPlan, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, fmt.Errorf("goal is empty")
	}

	if plan, name := matchTemplate(goal); plan != nil {
		p.log.Info("Plan built from template", zap.String("template", name), zap.Int("steps", len(plan.Steps)))
		return plan, nil
	}

	if p.llm != nil {
		plan, err := p.planWithModel(ctx, goal)
		if err == nil {
			p.log.Info("Plan generated by model", zap.Int("steps", len(plan.Steps)))
			return plan, nil
		}
		p.log.Warn("Model planning failed, falling back to rules", zap.Error(err))
	}

	plan := p.planSimple(goal)
	p.log.Info("Plan built from rules", zap.Int("steps", len(plan.Steps)))
	return plan, nil
}

func (p *TaskPlanner) planWithModel(ctx context.Context, goal string) (*schemas.TaskPlan, error) {
	timeout := p.cfg.LLMTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := p.llm.GenerateResponse(ctx, schemas.GenerationRequest{
		SystemPrompt:    systemPrompt,
		UserPrompt:      fmt.Sprintf("Create a task plan for: %s", goal),
		ForceJSONFormat: true,
	})
	if err != nil {
		return nil, fmt.Errorf("model request: %w", err)
	}

	var plan schemas.TaskPlan
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &plan); err != nil {
		return nil, fmt.Errorf("model output is not a task plan: %w", err)
	}
	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("model returned a plan with no steps")
	}

	if plan.PlanID == "" {
		plan.PlanID = newPlanID()
	}
	plan.Goal = goal
	for i := range plan.Steps {
		if plan.Steps[i].StepID == "" {
			plan.Steps[i].StepID = stepID(i + 1)
		}
	}
	return &plan, nil
}

// planSimple is the keyword rule fallback. It always yields at least one step.
func (p *TaskPlanner) planSimple(goal string) *schemas.TaskPlan {
	plan := &schemas.TaskPlan{
		PlanID: newPlanID(),
		Goal:   goal,
	}
	lower := strings.ToLower(goal)

	switch {
	case strings.Contains(lower, "export"):
		plan.Steps = []schemas.TaskStep{
			{StepID: "s1", Action: schemas.ActionClick, Target: "elm_file_menu", Confidence: 0.7, Delay: 0.1},
			{StepID: "s2", Action: schemas.ActionClick, Target: "elm_export", Confidence: 0.7, Delay: 0.1},
			{StepID: "s3", Action: schemas.ActionWait, Delay: 1.0, Confidence: 0.7},
		}
	case strings.Contains(lower, "click"):
		plan.Steps = []schemas.TaskStep{
			{StepID: "s1", Action: schemas.ActionClick, Target: "elm_target", Confidence: 0.8, Delay: 0.1},
		}
	case strings.Contains(lower, "type"), strings.Contains(lower, "enter"):
		plan.Steps = []schemas.TaskStep{
			{StepID: "s1", Action: schemas.ActionType, Keys: schemas.KeyList{"user input"}, Confidence: 0.8, Delay: 0.1},
		}
	default:
		plan.Steps = []schemas.TaskStep{
			{StepID: "s1", Action: schemas.ActionWait, Delay: 1.0, Confidence: 0.5},
		}
	}
	return plan
}

// stripCodeFences removes a surrounding markdown code fence if the model
// wrapped its JSON in one.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func newPlanID() string {
	return "tp_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func stepID(n int) string {
	return fmt.Sprintf("s%d", n)
}
