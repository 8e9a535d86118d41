// File: internal/llm/client.go

// Package llm talks to an OpenAI-compatible chat-completions endpoint and
// turns free-form model output into typed objects.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/nulltrace0/webagentd/api/schemas"
	"github.com/nulltrace0/webagentd/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client implements schemas.LLMClient against the chat-completions wire
// format. The API key is held privately and never logged.
type Client struct {
	apiKey     string
	endpoint   string
	model      string
	maxTokens  int
	httpClient *http.Client
	logger     *zap.Logger
}

// -- Chat-completions request/response structures (internal to this file) --

type chatMessage struct {
	Role string `json:"role"`
	// Content is a plain string, or a []contentPart when an image rides along.
	Content any `json:"content"`
}

type contentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *imageURLPart `json:"image_url,omitempty"`
}

type imageURLPart struct {
	URL string `json:"url"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewClient initializes the client.
func NewClient(cfg config.LLMConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("model API key is required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("model endpoint is required")
	}

	return &Client{
		apiKey:    cfg.APIKey,
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		logger: logger.Named("llm_client"),
	}, nil
}

// Generate sends the prompts to the model and returns the generated content,
// retrying transient failures with exponential backoff.
func (c *Client) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	body, err := json.Marshal(c.buildRequestPayload(req))
	if err != nil {
		return "", &schemas.Error{Code: schemas.ErrCodeModel, Message: fmt.Sprintf("marshal request payload: %v", err)}
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second

	var responseContent string

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		startTime := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		duration := time.Since(startTime)

		if err != nil {
			c.logger.Warn("Network error during model request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		var payload chatResponse
		if err := json.Unmarshal(respBody, &payload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}
		if len(payload.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("model returned no choices"))
		}
		choice := payload.Choices[0]
		if choice.Message.Content == "" {
			return fmt.Errorf("model returned empty content (finish_reason: %s)", choice.FinishReason)
		}

		c.logger.Info("Model generation complete",
			zap.String("model", c.model),
			zap.Duration("duration", duration),
			zap.Int("prompt_tokens", payload.Usage.PromptTokens),
			zap.Int("completion_tokens", payload.Usage.CompletionTokens),
			zap.Int("total_tokens", payload.Usage.TotalTokens),
		)

		responseContent = choice.Message.Content
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", &schemas.Error{Code: schemas.ErrCodeModel, Message: err.Error()}
	}
	return responseContent, nil
}

func (c *Client) buildRequestPayload(req schemas.GenerationRequest) chatRequest {
	maxTokens := req.Options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	var userContent any = req.UserPrompt
	if req.ImageB64 != "" {
		userContent = []contentPart{
			{Type: "text", Text: req.UserPrompt},
			{Type: "image_url", ImageURL: &imageURLPart{URL: "data:image/png;base64," + req.ImageB64}},
		}
	}

	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: userContent},
		},
		Temperature: req.Options.Temperature,
		MaxTokens:   maxTokens,
	}
	if req.Options.ForceJSONFormat {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return payload
}

// handleAPIError classifies HTTP failures: rate limits and server errors are
// retried, everything else aborts. The response body may describe our own
// request, so it is safe to log; the Authorization header never is.
func (c *Client) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("Model API returned error status",
		zap.Int("status", statusCode),
		zap.ByteString("response", body))
	err := fmt.Errorf("model API error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError, http.StatusBadGateway:
		return err // Transient, retry.
	default:
		return backoff.Permanent(err)
	}
}
