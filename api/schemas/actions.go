// api/schemas/actions.go
package schemas

import (
	"fmt"
	"math"
	"net/url"
	"strings"
)

// ActionKind enumerates every browser-side primitive the agent extension
// understands. Using a custom type ensures only predefined constants can be
// dispatched over the control socket.
type ActionKind string

const (
	ActionNavigate               ActionKind = "navigate"
	ActionWaitFor                ActionKind = "waitFor"
	ActionClick                  ActionKind = "click"
	ActionType                   ActionKind = "type"
	ActionPress                  ActionKind = "press"
	ActionQuery                  ActionKind = "query"
	ActionGetPageInfo            ActionKind = "getPageInfo"
	ActionGetInteractiveElements ActionKind = "getInteractiveElements"
	ActionSmartClick             ActionKind = "smartClick"
	ActionSmartType              ActionKind = "smartType"
	ActionSwitchTab              ActionKind = "switchTab"
	ActionDownload               ActionKind = "download"
	ActionUploadFile             ActionKind = "uploadFile"
	ActionCaptureScreenshot      ActionKind = "captureScreenshot"
)

// knownActions is the authoritative set of dispatchable kinds. Anything the
// planner produces outside this set is rejected before it reaches the wire.
var knownActions = map[ActionKind]struct{}{
	ActionNavigate:               {},
	ActionWaitFor:                {},
	ActionClick:                  {},
	ActionType:                   {},
	ActionPress:                  {},
	ActionQuery:                  {},
	ActionGetPageInfo:            {},
	ActionGetInteractiveElements: {},
	ActionSmartClick:             {},
	ActionSmartType:              {},
	ActionSwitchTab:              {},
	ActionDownload:               {},
	ActionUploadFile:             {},
	ActionCaptureScreenshot:      {},
}

// Known reports whether k is a recognized action kind.
func (k ActionKind) Known() bool {
	_, ok := knownActions[k]
	return ok
}

// BuiltinForbiddenURLPrefixes lists the URL prefixes that must never be
// navigated to. Configuration may extend this list but never shrink it; the
// dispatcher always re-applies the builtin entries.
var BuiltinForbiddenURLPrefixes = []string{
	"chrome://",
	"edge://",
	"about:",
	"chrome-extension://",
}

// smartClickLocatorFields are the payload keys of which smartClick requires at
// least one.
var smartClickLocatorFields = []string{
	"selector", "id", "name", "ariaLabel", "role", "text", "description",
}

// ValidateNavigateURL checks that raw is an absolute http(s) URL and does not
// match any forbidden prefix.
func ValidateNavigateURL(raw string, forbidden []string) error {
	if raw == "" {
		return &Error{Code: ErrCodeInvalidPayload, Message: "navigate requires a url"}
	}
	lowered := strings.ToLower(strings.TrimSpace(raw))
	for _, prefix := range forbidden {
		if strings.HasPrefix(lowered, prefix) {
			return &Error{Code: ErrCodeForbiddenURL, Message: fmt.Sprintf("navigation to %q is forbidden", raw)}
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &Error{Code: ErrCodeInvalidPayload, Message: fmt.Sprintf("navigate url %q is not parseable: %v", raw, err)}
	}
	if !u.IsAbs() || u.Host == "" {
		return &Error{Code: ErrCodeInvalidPayload, Message: fmt.Sprintf("navigate url %q must be absolute", raw)}
	}
	return nil
}

// ValidateActionPayload enforces the per-kind payload contract before an
// envelope is transmitted. The forbidden list always includes the builtin
// prefixes regardless of what the caller passes.
func ValidateActionPayload(kind ActionKind, payload map[string]any, extraForbidden []string) error {
	if !kind.Known() {
		return &Error{Code: ErrCodeUnknownAction, Message: fmt.Sprintf("unknown action kind %q", kind)}
	}

	forbidden := append(append([]string{}, BuiltinForbiddenURLPrefixes...), extraForbidden...)

	str := func(key string) string {
		v, _ := payload[key].(string)
		return v
	}

	switch kind {
	case ActionNavigate, ActionDownload:
		return ValidateNavigateURL(str("url"), forbidden)
	case ActionWaitFor, ActionClick, ActionQuery:
		if str("selector") == "" {
			return &Error{Code: ErrCodeInvalidPayload, Message: fmt.Sprintf("%s requires a selector", kind)}
		}
	case ActionType:
		if str("selector") == "" {
			return &Error{Code: ErrCodeInvalidPayload, Message: "type requires a selector"}
		}
	case ActionPress:
		if str("key") == "" {
			return &Error{Code: ErrCodeInvalidPayload, Message: "press requires a key"}
		}
	case ActionSmartClick:
		for _, field := range smartClickLocatorFields {
			if str(field) != "" {
				return nil
			}
		}
		return &Error{
			Code:    ErrCodeInvalidPayload,
			Message: "smartClick requires one of selector, id, name, ariaLabel, role, text or description",
		}
	case ActionSmartType:
		if str("text") == "" {
			return &Error{Code: ErrCodeInvalidPayload, Message: "smartType requires text"}
		}
	case ActionSwitchTab:
		// JSON numbers decode as float64; only whole values qualify.
		switch idx := payload["index"].(type) {
		case int, int64:
		case float64:
			if idx != math.Trunc(idx) {
				return &Error{Code: ErrCodeInvalidPayload, Message: "switchTab requires an integer index"}
			}
		default:
			return &Error{Code: ErrCodeInvalidPayload, Message: "switchTab requires an integer index"}
		}
	case ActionGetPageInfo, ActionGetInteractiveElements, ActionCaptureScreenshot, ActionUploadFile:
		// No required fields.
	}
	return nil
}
