// File: internal/llm/client_test.go
package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nulltrace0/webagentd/api/schemas"
	"github.com/nulltrace0/webagentd/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(config.LLMConfig{
		Model:      "gpt-4o",
		APIKey:     "sk-test-not-a-real-key",
		Endpoint:   srv.URL,
		APITimeout: 5 * time.Second,
		MaxTokens:  400,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return client
}

func chatReply(content string) string {
	raw, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
	return string(raw)
}

func TestNewClientRequiresKeyAndEndpoint(t *testing.T) {
	_, err := NewClient(config.LLMConfig{Endpoint: "https://api.openai.com"}, zaptest.NewLogger(t))
	assert.Error(t, err)

	_, err = NewClient(config.LLMConfig{APIKey: "sk-test"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestGenerateSendsChatRequest(t *testing.T) {
	var captured chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test-not-a-real-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(chatReply(`{"success":true}`)))
	})

	out, err := client.Generate(context.Background(), schemas.GenerationRequest{
		SystemPrompt: "system rules",
		UserPrompt:   "user question",
		Options: schemas.GenerationOptions{
			Temperature:     0.1,
			MaxTokens:       250,
			ForceJSONFormat: true,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"success":true}`, out)

	assert.Equal(t, "gpt-4o", captured.Model)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "user question", captured.Messages[1].Content)
	assert.Equal(t, 250, captured.MaxTokens)
	require.NotNil(t, captured.ResponseFormat)
	assert.Equal(t, "json_object", captured.ResponseFormat.Type)
}

func TestGenerateAttachesImageAsVisionPart(t *testing.T) {
	var captured map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(chatReply(`{"success":true}`)))
	})

	_, err := client.Generate(context.Background(), schemas.GenerationRequest{
		SystemPrompt: "system rules",
		UserPrompt:   "did the task succeed?",
		ImageB64:     "aGVsbG8=",
	})
	require.NoError(t, err)

	messages := captured["messages"].([]any)
	require.Len(t, messages, 2)
	user := messages[1].(map[string]any)

	parts, ok := user["content"].([]any)
	require.True(t, ok, "user content becomes a parts array when an image is attached")
	require.Len(t, parts, 2)

	text := parts[0].(map[string]any)
	assert.Equal(t, "text", text["type"])
	assert.Equal(t, "did the task succeed?", text["text"])

	image := parts[1].(map[string]any)
	assert.Equal(t, "image_url", image["type"])
	imageURL := image["image_url"].(map[string]any)
	assert.Equal(t, "data:image/png;base64,aGVsbG8=", imageURL["url"])
}

func TestGenerateRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(chatReply("recovered")))
	})

	out, err := client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	})

	_, err := client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, schemas.ErrCodeModel, schemas.CodeOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestExtractJSON(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"Bare", `{"a":1}`, `{"a":1}`, false},
		{"Fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, false},
		{"FencedNoLang", "```\n{\"a\":1}\n```", `{"a":1}`, false},
		{"SurroundingProse", `Sure! Here you go: {"a":1} hope that helps`, `{"a":1}`, false},
		{"NoJSON", "I cannot answer that.", "", true},
		{"Empty", "", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractJSON(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				assert.Equal(t, schemas.ErrCodeModelParse, schemas.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

// scriptedClient returns canned responses in order.
type scriptedClient struct {
	responses []string
	calls     int
	prompts   []string
}

func (s *scriptedClient) Generate(_ context.Context, req schemas.GenerationRequest) (string, error) {
	s.prompts = append(s.prompts, req.UserPrompt)
	if s.calls >= len(s.responses) {
		return "", &schemas.Error{Code: schemas.ErrCodeModel, Message: "script exhausted"}
	}
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

func TestGenerateObjectRepairsBadJSON(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"I think the answer is yes!",
		`{"success":true,"confidence":0.9,"message":"ok"}`,
	}}

	var verdict schemas.StepVerification
	err := GenerateObject(context.Background(), client, schemas.GenerationRequest{UserPrompt: "verify"}, &verdict)
	require.NoError(t, err)
	assert.True(t, verdict.Success)
	assert.Equal(t, 2, client.calls)
	assert.Contains(t, client.prompts[1], "was not a single valid JSON object")
	assert.Contains(t, client.prompts[1], "I think the answer is yes!")
}

func TestGenerateObjectGivesUpAfterRepairs(t *testing.T) {
	client := &scriptedClient{responses: []string{"nope", "still nope", "never"}}

	var verdict schemas.StepVerification
	err := GenerateObject(context.Background(), client, schemas.GenerationRequest{UserPrompt: "verify"}, &verdict)
	require.Error(t, err)
	assert.Equal(t, schemas.ErrCodeModelParse, schemas.CodeOf(err))
	assert.Equal(t, 3, client.calls)
}

func TestGenerateObjectPropagatesClientErrors(t *testing.T) {
	client := &scriptedClient{}

	var verdict schemas.StepVerification
	err := GenerateObject(context.Background(), client, schemas.GenerationRequest{UserPrompt: "verify"}, &verdict)
	require.Error(t, err)
	assert.Equal(t, schemas.ErrCodeModel, schemas.CodeOf(err))
}
