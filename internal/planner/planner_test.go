package planner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/insightpulseai/hawk/api/schemas"
	"github.com/insightpulseai/hawk/internal/config"
)

// stubLLM returns a canned response or error for every call and counts calls.
type stubLLM struct {
	response string
	err      error
	calls    int
}

func (s *stubLLM) GenerateResponse(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func testPlannerConfig() config.PlannerConfig {
	return config.PlannerConfig{LLMTimeout: 5 * time.Second}
}

func TestPlan_TemplateTier(t *testing.T) {
	// The model must never be consulted when a template matches; a failing stub
	// proves the tier ordering.
	llm := &stubLLM{err: errors.New("must not be called")}
	p := New(llm, testPlannerConfig(), zap.NewNop())

	plan, err := p.Plan(context.Background(), "Export report from dashboard")
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Zero(t, llm.calls)

	require.Len(t, plan.Steps, 4)
	want := []schemas.TaskStep{
		{StepID: "s1", Action: schemas.ActionClick, Target: "file_menu", Delay: 0.1, Confidence: 0.9},
		{StepID: "s2", Action: schemas.ActionClick, Target: "export_option", Delay: 0.1, Confidence: 0.9},
		{StepID: "s3", Action: schemas.ActionType, Keys: schemas.KeyList{"{filename}"}, Delay: 0.1, Confidence: 0.9},
		{StepID: "s4", Action: schemas.ActionKeypress, Keys: schemas.KeyList{"ENTER"}, Delay: 0.1, Confidence: 0.9},
	}
	if diff := cmp.Diff(want, plan.Steps, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("template steps mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, ValidatePlan(plan))
}

func TestPlan_ModelTier(t *testing.T) {
	modelPlan := schemas.TaskPlan{
		PlanID: "tp_model123",
		Goal:   "open the settings dialog",
		Steps: []schemas.TaskStep{
			{StepID: "s1", Action: schemas.ActionClick, Target: "elm_menubar", Delay: 0.1, Confidence: 0.85},
			{StepID: "s2", Action: schemas.ActionClick, Target: "settings", Delay: 0.2, Confidence: 0.8},
		},
	}
	raw, err := json.Marshal(modelPlan)
	require.NoError(t, err)

	t.Run("valid model output is used", func(t *testing.T) {
		llm := &stubLLM{response: string(raw)}
		p := New(llm, testPlannerConfig(), zap.NewNop())

		plan, err := p.Plan(context.Background(), "open the settings dialog")
		require.NoError(t, err)
		assert.Equal(t, 1, llm.calls)
		assert.Equal(t, "tp_model123", plan.PlanID)
		assert.Len(t, plan.Steps, 2)
	})

	t.Run("output wrapped in code fences is still parsed", func(t *testing.T) {
		llm := &stubLLM{response: "```json\n" + string(raw) + "\n```"}
		p := New(llm, testPlannerConfig(), zap.NewNop())

		plan, err := p.Plan(context.Background(), "open the settings dialog")
		require.NoError(t, err)
		assert.Equal(t, "tp_model123", plan.PlanID)
	})

	t.Run("missing step ids are backfilled", func(t *testing.T) {
		llm := &stubLLM{response: `{"steps":[{"action":"wait","delay":1.0}]}`}
		p := New(llm, testPlannerConfig(), zap.NewNop())

		plan, err := p.Plan(context.Background(), "pause briefly")
		require.NoError(t, err)
		require.Len(t, plan.Steps, 1)
		assert.Equal(t, "s1", plan.Steps[0].StepID)
		assert.NotEmpty(t, plan.PlanID)
		assert.Equal(t, "pause briefly", plan.Goal)
	})
}

func TestPlan_RuleFallback(t *testing.T) {
	cases := []struct {
		name        string
		goal        string
		llm         *stubLLM
		wantActions []schemas.Action
		wantConf    float64
	}{
		{
			name:        "model error falls through to rules",
			goal:        "do something unusual",
			llm:         &stubLLM{err: errors.New("api unavailable")},
			wantActions: []schemas.Action{schemas.ActionWait},
			wantConf:    0.5,
		},
		{
			name:        "unparseable model output falls through",
			goal:        "click the button",
			llm:         &stubLLM{response: "I cannot produce a plan for that."},
			wantActions: []schemas.Action{schemas.ActionClick},
			wantConf:    0.8,
		},
		{
			name:        "plan with no steps falls through",
			goal:        "type the address",
			llm:         &stubLLM{response: `{"plan_id":"tp_x","steps":[]}`},
			wantActions: []schemas.Action{schemas.ActionType},
			wantConf:    0.8,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := New(tc.llm, testPlannerConfig(), zap.NewNop())
			plan, err := p.Plan(context.Background(), tc.goal)
			require.NoError(t, err)
			assert.Equal(t, 1, tc.llm.calls)

			require.Len(t, plan.Steps, len(tc.wantActions))
			for i, action := range tc.wantActions {
				assert.Equal(t, action, plan.Steps[i].Action)
			}
			assert.Equal(t, tc.wantConf, plan.Steps[0].Confidence)
		})
	}
}

func TestPlan_RuleFallbackKeywords(t *testing.T) {
	// No model configured at all: template then rules.
	p := New(nil, testPlannerConfig(), zap.NewNop())

	t.Run("export workflow", func(t *testing.T) {
		plan, err := p.Plan(context.Background(), "export everything")
		require.NoError(t, err)
		require.Len(t, plan.Steps, 3)
		assert.Equal(t, "elm_file_menu", plan.Steps[0].Target)
		assert.Equal(t, "elm_export", plan.Steps[1].Target)
		assert.Equal(t, schemas.ActionWait, plan.Steps[2].Action)
	})

	t.Run("unknown goal yields a single wait", func(t *testing.T) {
		plan, err := p.Plan(context.Background(), "contemplate the desktop")
		require.NoError(t, err)
		require.Len(t, plan.Steps, 1)
		assert.Equal(t, schemas.ActionWait, plan.Steps[0].Action)
		assert.Equal(t, 0.5, plan.Steps[0].Confidence)
	})
}

func TestPlan_EmptyGoal(t *testing.T) {
	p := New(nil, testPlannerConfig(), zap.NewNop())
	_, err := p.Plan(context.Background(), "   ")
	assert.Error(t, err)
}

func TestValidatePlan(t *testing.T) {
	cases := []struct {
		name     string
		plan     *schemas.TaskPlan
		wantErrs int
	}{
		{
			name:     "nil plan",
			plan:     nil,
			wantErrs: 1,
		},
		{
			name:     "no steps",
			plan:     &schemas.TaskPlan{PlanID: "tp_1"},
			wantErrs: 1,
		},
		{
			name: "valid plan",
			plan: &schemas.TaskPlan{Steps: []schemas.TaskStep{
				{StepID: "s1", Action: schemas.ActionClick, Target: "elm_ok_btn"},
				{StepID: "s2", Action: schemas.ActionType, Keys: schemas.KeyList{"hello"}},
				{StepID: "s3", Action: schemas.ActionWait, Delay: 0.5},
			}},
			wantErrs: 0,
		},
		{
			name: "click without target",
			plan: &schemas.TaskPlan{Steps: []schemas.TaskStep{
				{StepID: "s1", Action: schemas.ActionClick},
			}},
			wantErrs: 1,
		},
		{
			name: "keypress without keys and negative delay",
			plan: &schemas.TaskPlan{Steps: []schemas.TaskStep{
				{StepID: "s1", Action: schemas.ActionKeypress, Delay: -0.5},
			}},
			wantErrs: 2,
		},
		{
			name: "unknown action",
			plan: &schemas.TaskPlan{Steps: []schemas.TaskStep{
				{StepID: "s1", Action: "drag"},
			}},
			wantErrs: 1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			errs := ValidatePlan(tc.plan)
			assert.Len(t, errs, tc.wantErrs, "errors: %v", errs)
		})
	}
}

func TestTemplates(t *testing.T) {
	tmpls := Templates()
	require.Len(t, tmpls, 2)
	assert.Equal(t, "export_document", tmpls[0].Name)
	assert.Equal(t, "fill_form", tmpls[1].Name)

	// The returned slice is a copy; mutating it must not affect matching.
	tmpls[0].Name = "mutated"
	assert.Equal(t, "export_document", Templates()[0].Name)
}
