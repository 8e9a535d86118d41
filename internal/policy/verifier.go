// File: internal/policy/verifier.go
package policy

import (
	"context"

	"go.uber.org/zap"

	"github.com/nulltrace0/webagentd/api/schemas"
	"github.com/nulltrace0/webagentd/internal/llm"
	"github.com/nulltrace0/webagentd/internal/prompt"
)

// Verifier judges whether actions and tasks actually succeeded, using page
// evidence only.
type Verifier struct {
	client  schemas.LLMClient
	prompts *prompt.Manager
	logger  *zap.Logger
}

// NewVerifier creates a Verifier.
func NewVerifier(client schemas.LLMClient, prompts *prompt.Manager, logger *zap.Logger) *Verifier {
	return &Verifier{
		client:  client,
		prompts: prompts,
		logger:  logger.Named("verifier"),
	}
}

// CheckStep judges the last executed action against its expected outcome
// using a fresh page observation.
func (v *Verifier) CheckStep(ctx context.Context, action, expected string, obs schemas.Observation) (schemas.StepVerification, error) {
	req := v.prompts.ActionVerification(action, expected, prompt.FormatPageState(obs))

	var verdict schemas.StepVerification
	if err := llm.GenerateObject(ctx, v.client, req, &verdict); err != nil {
		return schemas.StepVerification{}, err
	}
	clampConfidence(&verdict)

	v.logger.Info("Step verified",
		zap.Bool("success", verdict.Success),
		zap.Float64("confidence", verdict.Confidence),
		zap.String("message", verdict.Message))
	return verdict, nil
}

// Final judges whether the whole goal was accomplished from the final page
// evidence: URL, title, the (already truncated) DOM text and, when captured,
// a base64 screenshot sent to the model as an image.
func (v *Verifier) Final(ctx context.Context, task, url, title, dom, screenshot string) (schemas.StepVerification, error) {
	req := v.prompts.FinalVerification(task, url, title, dom, screenshot)

	var verdict schemas.StepVerification
	if err := llm.GenerateObject(ctx, v.client, req, &verdict); err != nil {
		return schemas.StepVerification{}, err
	}
	clampConfidence(&verdict)

	v.logger.Info("Final verification complete",
		zap.Bool("success", verdict.Success),
		zap.Float64("confidence", verdict.Confidence),
		zap.String("message", verdict.Message))
	return verdict, nil
}

func clampConfidence(verdict *schemas.StepVerification) {
	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}
}
