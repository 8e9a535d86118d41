// api/schemas/llm.go
package schemas

import "context"

// GenerationOptions control a single model call. Zero values mean "use the
// client's configured defaults".
type GenerationOptions struct {
	Temperature     float64
	MaxTokens       int
	ForceJSONFormat bool
}

// GenerationRequest is one prompt pair sent to the model. ImageB64, when set,
// is a base64 PNG attached to the user message as a vision part.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	ImageB64     string
	Options      GenerationOptions
}

// LLMClient abstracts the chat-completion backend so the planner and verifier
// can be tested against a mock.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// Plan is one normalized planning decision. Done set means the model believes
// the task goal is met and the engine should run final verification instead of
// dispatching Action.
type Plan struct {
	Action          ActionKind     `json:"action"`
	Payload         map[string]any `json:"payload"`
	Reasoning       string         `json:"reasoning,omitempty"`
	ExpectedOutcome string         `json:"expected_outcome,omitempty"`
	Done            bool           `json:"done"`
}

// StepVerification is the model's judgement of a single executed step.
type StepVerification struct {
	Success    bool    `json:"success"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message"`
}

// Verdict maps the model judgement onto the engine's retry machinery: a
// successful step is ok, anything else asks the planner to try again.
func (v StepVerification) Verdict() Verdict {
	if v.Success {
		return VerdictOK
	}
	return VerdictRetry
}
