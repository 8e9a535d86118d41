// File: internal/prompt/prompt_test.go
package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nulltrace0/webagentd/api/schemas"
	"github.com/nulltrace0/webagentd/internal/config"
)

func testManager() *Manager {
	return NewManager(config.LLMConfig{Temperature: 0.1})
}

func TestNextActionRequest(t *testing.T) {
	req := testManager().NextAction("Find cat pictures", "Current URL: unknown", "No actions taken yet.")

	assert.Contains(t, req.SystemPrompt, "ONE JSON OBJECT on ONE LINE")
	assert.Contains(t, req.SystemPrompt, "anti-injection")
	assert.Contains(t, req.UserPrompt, "GOAL:Find cat pictures")
	assert.Contains(t, req.UserPrompt, "HISTORY:No actions taken yet.")
	assert.Contains(t, req.UserPrompt, `https://www.google.com`, "blank-state rule must pin the deterministic entry point")

	assert.InDelta(t, 0.1, req.Options.Temperature, 1e-9)
	assert.Equal(t, 400, req.Options.MaxTokens)
	assert.True(t, req.Options.ForceJSONFormat)
}

func TestVerificationRequestsRunDeterministic(t *testing.T) {
	m := testManager()

	step := m.ActionVerification("Navigate to https://example.com", "Example loads", "Current URL: https://example.com")
	assert.Zero(t, step.Options.Temperature)
	assert.Equal(t, 250, step.Options.MaxTokens)
	assert.Contains(t, step.UserPrompt, "EXPECTED:Example loads")

	final := m.FinalVerification("Find cat pictures", "https://example.com/search?q=cats", "cats - Search", "<body>...</body>", "aGVsbG8=")
	assert.Zero(t, final.Options.Temperature)
	assert.Equal(t, 350, final.Options.MaxTokens)
	assert.Contains(t, final.UserPrompt, "GOAL:Find cat pictures")
	assert.Contains(t, final.UserPrompt, "- DOM:<body>...</body>")
	assert.Equal(t, "aGVsbG8=", final.ImageB64)
}

func TestFinalVerificationScreenshotNotTruncated(t *testing.T) {
	// Base64 must survive intact; truncation would corrupt the image.
	shot := strings.Repeat("A", 50000)
	req := testManager().FinalVerification("goal", "https://example.com", "title", "<body/>", shot)

	assert.Equal(t, shot, req.ImageB64)
}

func TestSanitizeTruncatesHugeVariables(t *testing.T) {
	huge := strings.Repeat("x", 50000)
	req := testManager().FinalVerification("goal", "https://example.com", "title", huge, "")

	assert.Less(t, len(req.UserPrompt), 15000)
	assert.Contains(t, req.UserPrompt, "... (truncated)")
}

func TestFormatPageState(t *testing.T) {
	obs := schemas.Observation{
		URL:   "https://example.com",
		Title: "Example",
		Elements: []schemas.Element{
			{Tag: "input", Name: "q", Placeholder: "Search"},
			{Tag: "button", Text: "Go", IsSubmitButton: true},
			{Tag: "a", Text: "whitepaper", IsPdfLink: true},
		},
	}

	state := FormatPageState(obs)
	assert.Contains(t, state, "Current URL: https://example.com")
	assert.Contains(t, state, "1. <input> name='q' placeholder='Search'")
	assert.Contains(t, state, "[SUBMIT]")
	assert.Contains(t, state, "[PDF]")
}

func TestFormatPageStateEmptyAndDiagnostics(t *testing.T) {
	state := FormatPageState(schemas.Observation{})
	assert.Contains(t, state, "Current URL: unknown")
	assert.Contains(t, state, "No interactive elements found yet.")

	state = FormatPageState(schemas.Observation{
		URL:         "https://example.com",
		Diagnostics: map[string]string{"getPageInfo": "ACTION_TIMEOUT"},
	})
	assert.Contains(t, state, "Diagnostics:")
	assert.Contains(t, state, "ACTION_TIMEOUT")
}

func TestFormatPageStateCapsShownElements(t *testing.T) {
	elements := make([]schemas.Element, 40)
	for i := range elements {
		elements[i] = schemas.Element{Tag: "a", Text: "link"}
	}
	state := FormatPageState(schemas.Observation{URL: "https://example.com", Elements: elements})

	assert.Contains(t, state, "15. <a>")
	assert.NotContains(t, state, "16. <a>")
}

func TestFormatHistory(t *testing.T) {
	assert.Equal(t, "No actions taken yet.", FormatHistory(nil))

	steps := []schemas.StepRecord{
		{
			Action:  schemas.ActionNavigate,
			Payload: map[string]any{"url": "https://example.com"},
			Outcome: schemas.OutcomeOK,
			Verdict: schemas.VerdictOK,
		},
		{
			Action:  schemas.ActionSmartClick,
			Payload: map[string]any{"text": "Sign in"},
			Outcome: schemas.OutcomeError,
			Error:   "element not found",
		},
		{
			Action:  schemas.ActionPress,
			Payload: map[string]any{"key": "Enter"},
			Outcome: schemas.OutcomeTimeout,
		},
	}

	history := FormatHistory(steps)
	require.Contains(t, history, "Actions taken so far (3 steps):")
	assert.Contains(t, history, "1. Navigate to https://example.com")
	assert.Contains(t, history, "2. Click element with text 'Sign in' -> failed: element not found")
	assert.Contains(t, history, "3. Press Enter -> timed out")
}

func TestDescribeActionAndStep(t *testing.T) {
	assert.Equal(t, "Type 'cats' into input field",
		DescribeAction(schemas.ActionSmartType, map[string]any{"text": "cats"}))
	assert.Equal(t, "Click element matching '#accept-cookies'",
		DescribeAction(schemas.ActionSmartClick, map[string]any{"selector": "#accept-cookies"}))
	assert.Equal(t, "Going to https://example.com",
		DescribeStep(schemas.ActionNavigate, map[string]any{"url": "https://example.com"}))
	assert.Equal(t, "getPageInfo", DescribeStep(schemas.ActionGetPageInfo, nil))
}
