package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ninjacat-ai/mcp-bridge/internal/config"
)

func chatConfig(aiURL string, timeoutSeconds float64) *config.Config {
	return &config.Config{
		AIWebhookURL:         aiURL,
		AITimeoutSeconds:     5,
		ChatTimeoutSeconds:   timeoutSeconds,
		ModelName:            "external-ai",
		WebhookMaxAttempts:   1,
		WebhookBackoffBaseMS: 1,
		ExtraWebhooks:        map[string]config.WebhookTarget{},
	}
}

func TestModelsList(t *testing.T) {
	f := newAPIFixture(t, nil)
	rec := f.request(http.MethodGet, "/v1/models", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Object string `json:"object"`
		Data   []struct {
			ID     string `json:"id"`
			Object string `json:"object"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "list", out.Object)
	require.Len(t, out.Data, 1)
	assert.Equal(t, "external-ai", out.Data[0].ID)
	assert.Equal(t, "model", out.Data[0].Object)
}

// The backend receives the forwarded prompt, answers through /callback
// with the same session id, and the blocked chat request completes.
func TestChatCompletionResolvedByCallback(t *testing.T) {
	var f *apiFixture
	promptCh := make(chan string, 1)

	ai := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		promptCh <- payload["prompt"].(string)
		sessionID := payload["sessionID"].(string)
		go func() {
			cb, _ := json.Marshal(map[string]any{"sessionID": sessionID, "message": "All done."})
			f.request(http.MethodPost, "/callback", string(cb), nil)
		}()
		w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(ai.Close)

	f = newAPIFixtureWithConfig(t, nil, chatConfig(ai.URL, 5))

	body := `{"messages":[{"role":"system","content":"be brief"},{"role":"user","content":"hello there"}]}`
	rec := f.request(http.MethodPost, "/v1/chat/completions", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, strings.HasPrefix(out.ID, "chatcmpl-"), "id %q", out.ID)
	assert.Equal(t, "chat.completion", out.Object)
	assert.Equal(t, "external-ai", out.Model)
	require.Len(t, out.Choices, 1)
	assert.Equal(t, "assistant", out.Choices[0].Message.Role)
	assert.Equal(t, "All done.", out.Choices[0].Message.Content)
	assert.Equal(t, "stop", out.Choices[0].FinishReason)
	assert.Equal(t, 2, out.Usage.CompletionTokens)
	assert.Greater(t, out.Usage.TotalTokens, 2)

	prompt := <-promptCh
	assert.True(t, strings.HasPrefix(prompt, "hello there"), "prompt %q", prompt)
	assert.Contains(t, prompt, "respond using your webhook tool")
}

// The same handler serves the aliased path.
func TestChatCompletionAliasRoute(t *testing.T) {
	var f *apiFixture
	ai := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		sessionID := payload["sessionID"].(string)
		go func() {
			cb, _ := json.Marshal(map[string]any{"sessionID": sessionID, "message": "ok"})
			f.request(http.MethodPost, "/callback", string(cb), nil)
		}()
		w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(ai.Close)

	f = newAPIFixtureWithConfig(t, nil, chatConfig(ai.URL, 5))
	body := `{"messages":[{"role":"user","content":"ping"}]}`
	rec := f.request(http.MethodPost, "/mcp/openai/v1/chat/completions", body, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestChatCompletionTimeout(t *testing.T) {
	ai := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(ai.Close)

	f := newAPIFixtureWithConfig(t, nil, chatConfig(ai.URL, 0.05))
	body := `{"messages":[{"role":"user","content":"anyone home"}]}`
	rec := f.request(http.MethodPost, "/v1/chat/completions", body, nil)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	var out struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "timeout", out.Error.Type)
	assert.Contains(t, out.Error.Message, "did not respond")
}

func TestChatCompletionRejectsBadRequests(t *testing.T) {
	f := newAPIFixture(t, nil)

	cases := []struct {
		name string
		body string
		want string
	}{
		{"not json", "{", "Invalid JSON"},
		{"no messages", `{"messages":[]}`, "No messages"},
		{"no user message", `{"messages":[{"role":"assistant","content":"hi"}]}`, "No user message"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.request(http.MethodPost, "/v1/chat/completions", tc.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.want)
		})
	}
}

// With no AI backend configured the dispatch fails before any waiting.
func TestChatCompletionBackendUnconfigured(t *testing.T) {
	f := newAPIFixture(t, nil)
	body := `{"messages":[{"role":"user","content":"hello"}]}`
	rec := f.request(http.MethodPost, "/v1/chat/completions", body, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "upstream_error")
}

func TestOpenAPISchemaServed(t *testing.T) {
	f := newAPIFixture(t, nil)
	rec := f.request(http.MethodGet, "/mcp/openapi.json", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/v1/chat/completions")
	assert.Contains(t, paths, "/v1/models")
}
