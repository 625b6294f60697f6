package planner

import (
	"regexp"

	"github.com/insightpulseai/hawk/api/schemas"
)

// Template is a canned plan for a recognized goal shape. Placeholder keys such
// as {filename} are left unfilled; execution resolves them against session
// parameters or leaves them for the operator to review in plan-only mode.
type Template struct {
	Name    string
	Pattern *regexp.Regexp
	Steps   []schemas.TaskStep
}

const templateConfidence = 0.9

var builtinTemplates = []Template{
	{
		Name:    "export_document",
		Pattern: regexp.MustCompile(`(?i)export .* from .*`),
		Steps: []schemas.TaskStep{
			{Action: schemas.ActionClick, Target: "file_menu"},
			{Action: schemas.ActionClick, Target: "export_option"},
			{Action: schemas.ActionType, Keys: schemas.KeyList{"{filename}"}},
			{Action: schemas.ActionKeypress, Keys: schemas.KeyList{"ENTER"}},
		},
	},
	{
		Name:    "fill_form",
		Pattern: regexp.MustCompile(`(?i)fill .* form`),
		Steps: []schemas.TaskStep{
			{Action: schemas.ActionClick, Target: "first_input_field"},
			{Action: schemas.ActionType, Keys: schemas.KeyList{"{field_value}"}},
			{Action: schemas.ActionKeypress, Keys: schemas.KeyList{"TAB"}},
		},
	},
}

// matchTemplate returns a plan built from the first template whose pattern
// matches the goal, or nil when no template applies.
func matchTemplate(goal string) (*schemas.TaskPlan, string) {
	for _, tmpl := range builtinTemplates {
		if !tmpl.Pattern.MatchString(goal) {
			continue
		}
		plan := &schemas.TaskPlan{
			PlanID: newPlanID(),
			Goal:   goal,
		}
		for i, step := range tmpl.Steps {
			step.StepID = stepID(i + 1)
			step.Confidence = templateConfidence
			if step.Delay == 0 {
				step.Delay = 0.1
			}
			plan.Steps = append(plan.Steps, step)
		}
		return plan, tmpl.Name
	}
	return nil, ""
}

// Templates lists the built-in templates for the plan inspection surface.
func Templates() []Template {
	out := make([]Template, len(builtinTemplates))
	copy(out, builtinTemplates)
	return out
}
