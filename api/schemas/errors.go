// api/schemas/errors.go
package schemas

import "errors"

// ErrorCode is a string type used for structured error classification across
// the link, dispatcher and engine. Using a custom type ensures only predefined
// constants can be used where an ErrorCode is expected.
type ErrorCode string

const (
	// -- Transport layer --
	ErrCodeTransport    ErrorCode = "TRANSPORT_ERROR"
	ErrCodeNotConnected ErrorCode = "NOT_CONNECTED"
	ErrCodeBusy         ErrorCode = "BUSY"

	// -- Action layer --
	ErrCodeAction        ErrorCode = "ACTION_ERROR"
	ErrCodeActionTimeout ErrorCode = "ACTION_TIMEOUT"
	ErrCodeUnknownAction ErrorCode = "UNKNOWN_ACTION"

	// -- Validation (fails locally, never reaches the agent) --
	ErrCodeInvalidPayload ErrorCode = "INVALID_PAYLOAD"
	ErrCodeForbiddenURL   ErrorCode = "FORBIDDEN_URL"

	// -- Model layer --
	ErrCodeModel      ErrorCode = "MODEL_ERROR"
	ErrCodeModelParse ErrorCode = "MODEL_PARSE_ERROR"
)

// Error pairs an ErrorCode with a human-readable message. It is the error
// currency between the link, the dispatcher and the engine.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

// CodeOf extracts the ErrorCode from err, unwrapping as needed. Errors that do
// not carry a code report ErrCodeAction, the most conservative classification.
func CodeOf(err error) ErrorCode {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ErrCodeAction
}

// IsRetryable reports whether an error of this code should be fed back to the
// planner as failure context rather than terminating the task outright.
func (c ErrorCode) IsRetryable() bool {
	switch c {
	case ErrCodeAction, ErrCodeActionTimeout, ErrCodeTransport, ErrCodeModel, ErrCodeModelParse, ErrCodeBusy:
		return true
	}
	return false
}
