// File: internal/dispatch/dispatch.go

// Package dispatch is the typed action surface over the agent link. Every
// payload is validated before it touches the wire, so malformed plans and
// forbidden navigations fail locally.
package dispatch

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/nulltrace0/webagentd/api/schemas"
	"github.com/nulltrace0/webagentd/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Caller sends one correlated action to the browser agent. Implemented by
// link.Link; mocked in tests.
type Caller interface {
	Call(ctx context.Context, action schemas.ActionKind, payload map[string]any, timeout time.Duration) ([]byte, error)
}

// Dispatcher validates and executes browser actions.
type Dispatcher struct {
	caller    Caller
	timeout   time.Duration
	forbidden []string
	logger    *zap.Logger
}

// New creates a Dispatcher. Extra forbidden URL prefixes from configuration
// are applied on top of the builtin ones.
func New(caller Caller, cfg config.EngineConfig, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		caller:    caller,
		timeout:   cfg.ActionTimeout,
		forbidden: cfg.ForbiddenURLPrefixes,
		logger:    logger.Named("dispatch"),
	}
}

// Invoke validates the payload for kind and sends it to the agent. This is the
// generic path the engine uses for planner-produced actions; the typed helpers
// below route through it.
func (d *Dispatcher) Invoke(ctx context.Context, kind schemas.ActionKind, payload map[string]any) ([]byte, error) {
	if err := schemas.ValidateActionPayload(kind, payload, d.forbidden); err != nil {
		d.logger.Warn("Rejecting action before dispatch",
			zap.String("action", string(kind)),
			zap.String("code", string(schemas.CodeOf(err))))
		return nil, err
	}
	d.logger.Debug("Dispatching action", zap.String("action", string(kind)))
	return d.caller.Call(ctx, kind, payload, d.timeout)
}

func (d *Dispatcher) Navigate(ctx context.Context, url string) error {
	_, err := d.Invoke(ctx, schemas.ActionNavigate, map[string]any{"url": url})
	return err
}

func (d *Dispatcher) WaitFor(ctx context.Context, selector string) error {
	_, err := d.Invoke(ctx, schemas.ActionWaitFor, map[string]any{"selector": selector})
	return err
}

func (d *Dispatcher) Click(ctx context.Context, selector string) error {
	_, err := d.Invoke(ctx, schemas.ActionClick, map[string]any{"selector": selector})
	return err
}

func (d *Dispatcher) Type(ctx context.Context, selector, text string) error {
	_, err := d.Invoke(ctx, schemas.ActionType, map[string]any{"selector": selector, "text": text})
	return err
}

func (d *Dispatcher) Press(ctx context.Context, key string) error {
	_, err := d.Invoke(ctx, schemas.ActionPress, map[string]any{"key": key})
	return err
}

// Query returns the text content under selector. Agents reply either with a
// {"text": ...} object or a bare JSON string.
func (d *Dispatcher) Query(ctx context.Context, selector string) (string, error) {
	data, err := d.Invoke(ctx, schemas.ActionQuery, map[string]any{"selector": selector})
	if err != nil {
		return "", err
	}
	return decodeTextual(data, "text")
}

// PageInfo fetches the current URL, title and ready state.
func (d *Dispatcher) PageInfo(ctx context.Context) (schemas.PageInfo, error) {
	var info schemas.PageInfo
	data, err := d.Invoke(ctx, schemas.ActionGetPageInfo, nil)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, &schemas.Error{Code: schemas.ErrCodeAction, Message: fmt.Sprintf("malformed getPageInfo result: %v", err)}
	}
	return info, nil
}

// InteractiveElements fetches the harvested interactive elements. Agents reply
// either with {"elements": [...]} or a bare array.
func (d *Dispatcher) InteractiveElements(ctx context.Context) ([]schemas.Element, error) {
	data, err := d.Invoke(ctx, schemas.ActionGetInteractiveElements, nil)
	if err != nil {
		return nil, err
	}

	var wrapped struct {
		Elements []schemas.Element `json:"elements"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Elements != nil {
		return wrapped.Elements, nil
	}
	var bare []schemas.Element
	if err := json.Unmarshal(data, &bare); err == nil {
		return bare, nil
	}
	return nil, &schemas.Error{Code: schemas.ErrCodeAction, Message: "malformed getInteractiveElements result"}
}

func (d *Dispatcher) SmartClick(ctx context.Context, payload map[string]any) error {
	_, err := d.Invoke(ctx, schemas.ActionSmartClick, payload)
	return err
}

func (d *Dispatcher) SmartType(ctx context.Context, payload map[string]any) error {
	_, err := d.Invoke(ctx, schemas.ActionSmartType, payload)
	return err
}

func (d *Dispatcher) SwitchTab(ctx context.Context, index int) error {
	_, err := d.Invoke(ctx, schemas.ActionSwitchTab, map[string]any{"index": index})
	return err
}

func (d *Dispatcher) Download(ctx context.Context, url string) error {
	_, err := d.Invoke(ctx, schemas.ActionDownload, map[string]any{"url": url})
	return err
}

func (d *Dispatcher) UploadFile(ctx context.Context, payload map[string]any) error {
	_, err := d.Invoke(ctx, schemas.ActionUploadFile, payload)
	return err
}

// CaptureScreenshot returns the base64-encoded screenshot.
func (d *Dispatcher) CaptureScreenshot(ctx context.Context) (string, error) {
	data, err := d.Invoke(ctx, schemas.ActionCaptureScreenshot, nil)
	if err != nil {
		return "", err
	}
	return decodeTextual(data, "screenshot")
}

// decodeTextual extracts a string result that may arrive as {"<key>": "..."}
// or as a bare JSON string.
func decodeTextual(data []byte, key string) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	var wrapped map[string]any
	if err := json.Unmarshal(data, &wrapped); err == nil {
		if s, ok := wrapped[key].(string); ok {
			return s, nil
		}
	}
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		return bare, nil
	}
	return string(data), nil
}
