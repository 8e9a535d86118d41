// File: internal/prompt/format.go
package prompt

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/nulltrace0/webagentd/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Page state shows at most this many elements to the model; the observation
// itself may carry more.
const maxShownElements = 15

// FormatPageState renders an observation into the compact textual form the
// prompts consume.
func FormatPageState(obs schemas.Observation) string {
	var b strings.Builder

	url := obs.URL
	if url == "" {
		url = "unknown"
	}
	title := obs.Title
	if title == "" {
		title = "unknown"
	}
	fmt.Fprintf(&b, "Current URL: %s\n", url)
	fmt.Fprintf(&b, "Page Title: %s\n\n", title)

	if len(obs.Diagnostics) > 0 {
		raw, _ := json.Marshal(obs.Diagnostics)
		diag := string(raw)
		if len(diag) > 240 {
			diag = diag[:240]
		}
		fmt.Fprintf(&b, "Diagnostics: %s\n\n", diag)
	}

	if len(obs.Elements) == 0 {
		b.WriteString("No interactive elements found yet.\n")
		return b.String()
	}

	b.WriteString(fmt.Sprintf("Interactive Elements (up to %d shown):\n", maxShownElements))
	for i, elem := range obs.Elements {
		if i >= maxShownElements {
			break
		}
		fmt.Fprintf(&b, "  %d. <%s>", i+1, orUnknown(elem.Tag))
		if elem.Text != "" {
			fmt.Fprintf(&b, " text='%s'", clip(elem.Text, 50))
		}
		if elem.ID != "" {
			fmt.Fprintf(&b, " id='%s'", elem.ID)
		}
		if elem.Name != "" {
			fmt.Fprintf(&b, " name='%s'", elem.Name)
		}
		if elem.Placeholder != "" {
			fmt.Fprintf(&b, " placeholder='%s'", elem.Placeholder)
		}
		if elem.IsSubmitButton {
			b.WriteString(" [SUBMIT]")
		}
		if elem.IsPdfLink {
			b.WriteString(" [PDF]")
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// FormatHistory renders the executed steps for the planner's context.
func FormatHistory(steps []schemas.StepRecord) string {
	if len(steps) == 0 {
		return "No actions taken yet."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Actions taken so far (%d steps):\n", len(steps))
	for i, step := range steps {
		fmt.Fprintf(&b, "%d. %s", i+1, DescribeAction(step.Action, step.Payload))
		switch step.Outcome {
		case schemas.OutcomeOK:
			if step.Verdict == schemas.VerdictRetry && step.VerdictText != "" {
				fmt.Fprintf(&b, " -> not verified: %s", clip(step.VerdictText, 120))
			}
		case schemas.OutcomeError:
			fmt.Fprintf(&b, " -> failed: %s", clip(step.Error, 120))
		case schemas.OutcomeTimeout:
			b.WriteString(" -> timed out")
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// DescribeAction formats an action for human-readable display in logs and
// history lines.
func DescribeAction(kind schemas.ActionKind, payload map[string]any) string {
	switch kind {
	case schemas.ActionNavigate:
		return fmt.Sprintf("Navigate to %s", payloadString(payload, "url", "URL"))
	case schemas.ActionSmartClick:
		if text := payloadString(payload, "text", ""); text != "" {
			return fmt.Sprintf("Click element with text '%s'", text)
		}
		if sel := payloadString(payload, "selector", ""); sel != "" {
			return fmt.Sprintf("Click element matching '%s'", sel)
		}
		return "Click element"
	case schemas.ActionSmartType:
		return fmt.Sprintf("Type '%s' into input field", payloadString(payload, "text", ""))
	case schemas.ActionPress:
		return fmt.Sprintf("Press %s", payloadString(payload, "key", "key"))
	case schemas.ActionDownload:
		return fmt.Sprintf("Download file from %s", payloadString(payload, "url", "URL"))
	case schemas.ActionUploadFile:
		return fmt.Sprintf("Upload file: %s", payloadString(payload, "filename", "unknown"))
	default:
		raw, _ := json.Marshal(payload)
		return fmt.Sprintf("%s: %s", kind, raw)
	}
}

// DescribeStep is the short progressive form surfaced on the status endpoint.
func DescribeStep(kind schemas.ActionKind, payload map[string]any) string {
	switch kind {
	case schemas.ActionNavigate:
		return fmt.Sprintf("Going to %s", payloadString(payload, "url", "URL"))
	case schemas.ActionSmartClick:
		if text := payloadString(payload, "text", ""); text != "" {
			return fmt.Sprintf("Clicking %s", text)
		}
		if desc := payloadString(payload, "description", ""); desc != "" {
			return fmt.Sprintf("Clicking %s", desc)
		}
		return "Clicking element"
	case schemas.ActionSmartType:
		return fmt.Sprintf("Typing '%s'", payloadString(payload, "text", ""))
	case schemas.ActionPress:
		return fmt.Sprintf("Pressing %s", payloadString(payload, "key", "key"))
	case schemas.ActionDownload:
		return fmt.Sprintf("Downloading %s", payloadString(payload, "url", "file"))
	case schemas.ActionUploadFile:
		return "Uploading file"
	default:
		return string(kind)
	}
}

func payloadString(payload map[string]any, key, fallback string) string {
	if payload != nil {
		if s, ok := payload[key].(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
