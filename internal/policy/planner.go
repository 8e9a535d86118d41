// File: internal/policy/planner.go

// Package policy holds the model-facing decision logic: the planner that
// chooses the next action and the verifier that judges outcomes.
package policy

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nulltrace0/webagentd/api/schemas"
	"github.com/nulltrace0/webagentd/internal/llm"
	"github.com/nulltrace0/webagentd/internal/prompt"
)

// Planner asks the model for one next step at a time.
type Planner struct {
	client  schemas.LLMClient
	prompts *prompt.Manager
	logger  *zap.Logger
}

// NewPlanner creates a Planner.
func NewPlanner(client schemas.LLMClient, prompts *prompt.Manager, logger *zap.Logger) *Planner {
	return &Planner{
		client:  client,
		prompts: prompts,
		logger:  logger.Named("planner"),
	}
}

// loosePlan tolerates the variance small models produce before normalization
// tightens it into a schemas.Plan.
type loosePlan struct {
	Action          string         `json:"action"`
	Payload         map[string]any `json:"payload"`
	Reasoning       string         `json:"reasoning"`
	ExpectedOutcome string         `json:"expected_outcome"`
	TaskComplete    any            `json:"task_complete"`
}

// Next plans the single next action for the task given the current page
// observation and the executed history.
func (p *Planner) Next(ctx context.Context, task string, obs schemas.Observation, history []schemas.StepRecord) (schemas.Plan, error) {
	req := p.prompts.NextAction(task, prompt.FormatPageState(obs), prompt.FormatHistory(history))

	var lp loosePlan
	if err := llm.GenerateObject(ctx, p.client, req, &lp); err != nil {
		return schemas.Plan{}, err
	}

	plan, err := normalizePlan(lp)
	if err != nil {
		return schemas.Plan{}, err
	}

	if plan.Done {
		p.logger.Info("Planner reports the goal is satisfied", zap.String("reasoning", plan.Reasoning))
	} else {
		p.logger.Info("Planned next action",
			zap.String("action", string(plan.Action)),
			zap.String("reasoning", plan.Reasoning))
	}
	return plan, nil
}

// normalizePlan fills defaults, maps low-level aliases onto the smart actions
// and synthesizes selectors from locator hints.
func normalizePlan(lp loosePlan) (schemas.Plan, error) {
	plan := schemas.Plan{
		Payload:         lp.Payload,
		Reasoning:       strings.TrimSpace(lp.Reasoning),
		ExpectedOutcome: strings.TrimSpace(lp.ExpectedOutcome),
		Done:            parseBoolish(lp.TaskComplete),
	}
	if plan.Payload == nil {
		plan.Payload = map[string]any{}
	}

	if plan.Done {
		if plan.Reasoning == "" {
			plan.Reasoning = "Agent reports goal already satisfied based on page evidence."
		}
		return plan, nil
	}

	action := strings.TrimSpace(lp.Action)
	switch action {
	case "click":
		action = string(schemas.ActionSmartClick)
	case "type":
		action = string(schemas.ActionSmartType)
	}
	if action == "" {
		return schemas.Plan{}, &schemas.Error{Code: schemas.ErrCodeModelParse, Message: "plan is missing the action field"}
	}

	plan.Action = schemas.ActionKind(action)
	if !plan.Action.Known() {
		return schemas.Plan{}, &schemas.Error{Code: schemas.ErrCodeUnknownAction, Message: fmt.Sprintf("planner produced unknown action %q", action)}
	}

	switch plan.Action {
	case schemas.ActionNavigate:
		if payloadString(plan.Payload, "url") == "" {
			return schemas.Plan{}, &schemas.Error{Code: schemas.ErrCodeModelParse, Message: "navigate plan is missing a url"}
		}
	case schemas.ActionSmartType:
		if payloadString(plan.Payload, "text") == "" {
			return schemas.Plan{}, &schemas.Error{Code: schemas.ErrCodeModelParse, Message: "smartType plan is missing text"}
		}
	case schemas.ActionPress:
		if payloadString(plan.Payload, "key") == "" {
			plan.Payload["key"] = "Enter"
		}
	case schemas.ActionSmartClick:
		if err := synthesizeClickSelector(plan.Payload); err != nil {
			return schemas.Plan{}, err
		}
	}
	return plan, nil
}

// synthesizeClickSelector builds a CSS selector from locator hints when the
// model only named an id, name, aria label or role.
func synthesizeClickSelector(payload map[string]any) error {
	locators := []string{"selector", "text", "description", "name", "id", "ariaLabel", "role"}
	found := false
	for _, key := range locators {
		if payloadString(payload, key) != "" {
			found = true
			break
		}
	}
	if !found {
		return &schemas.Error{
			Code:    schemas.ErrCodeModelParse,
			Message: "smartClick plan needs selector, text, description, name, id, ariaLabel or role",
		}
	}

	if payloadString(payload, "selector") != "" {
		return nil
	}
	if id := payloadString(payload, "id"); id != "" {
		payload["selector"] = "#" + id
	} else if name := payloadString(payload, "name"); name != "" {
		payload["selector"] = fmt.Sprintf("[name='%s']", name)
	} else if label := payloadString(payload, "ariaLabel"); label != "" {
		payload["selector"] = fmt.Sprintf("[aria-label='%s'], button[aria-label='%s'], a[aria-label='%s']", label, label, label)
	} else if role := payloadString(payload, "role"); role != "" {
		payload["selector"] = fmt.Sprintf("[role='%s']", role)
	}
	return nil
}

// parseBoolish accepts the bool, string and missing renditions of
// task_complete that models emit.
func parseBoolish(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(strings.TrimSpace(t), "true")
	default:
		return false
	}
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	s, _ := payload[key].(string)
	return s
}
