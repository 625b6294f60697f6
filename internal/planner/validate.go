package planner

import (
	"fmt"

	"github.com/insightpulseai/hawk/api/schemas"
)

// ValidatePlan checks structural invariants on a plan and returns every
// violation found. It is a pure function; it never mutates the plan.
func ValidatePlan(plan *schemas.TaskPlan) []string {
	var errs []string

	if plan == nil || len(plan.Steps) == 0 {
		return append(errs, "Plan has no steps")
	}

	for i, step := range plan.Steps {
		switch step.Action {
		case schemas.ActionClick:
			if step.Target == "" {
				errs = append(errs, fmt.Sprintf("Step %d: Click action missing target", i+1))
			}
		case schemas.ActionType, schemas.ActionKeypress:
			if len(step.Keys) == 0 {
				errs = append(errs, fmt.Sprintf("Step %d: %s action missing keys", i+1, step.Action))
			}
		case schemas.ActionWait, schemas.ActionScreenshot:
			// No required fields.
		default:
			errs = append(errs, fmt.Sprintf("Step %d: Unknown action %q", i+1, step.Action))
		}

		if step.Delay < 0 {
			errs = append(errs, fmt.Sprintf("Step %d: Invalid delay value", i+1))
		}
	}

	return errs
}
