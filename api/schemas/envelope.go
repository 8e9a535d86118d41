// api/schemas/envelope.go
package schemas

import "encoding/json"

// Control frame types exchanged on the socket outside of action correlation.
const (
	FrameConnected = "connected"
	FramePing      = "ping"
	FramePong      = "pong"
)

// Envelope is the outbound action frame sent to the browser agent. The id
// correlates the eventual Result back to the waiting caller.
type Envelope struct {
	ID      string         `json:"id"`
	Action  ActionKind     `json:"action"`
	Payload map[string]any `json:"payload"`
}

// Result is the inbound response frame from the agent for a single envelope.
// Data's shape depends on the action kind; callers unmarshal it themselves.
type Result struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Frame is the union of everything the agent can send: control messages carry
// Type, action results carry ID and Status. Fields outside the active variant
// stay zero.
type Frame struct {
	Type   string          `json:"type,omitempty"`
	From   string          `json:"from,omitempty"`
	ID     string          `json:"id,omitempty"`
	Status string          `json:"status,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// IsControl reports whether the frame is a control message rather than a
// correlated action result.
func (f *Frame) IsControl() bool { return f.Type != "" }

// ControlFrame is a server-to-agent control message, e.g. the heartbeat ping.
type ControlFrame struct {
	Type string `json:"type"`
}
