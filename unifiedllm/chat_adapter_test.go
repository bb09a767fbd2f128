package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, status int, body string, inspect func(*http.Request, map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(raw, &payload))
		if inspect != nil {
			inspect(r, payload)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestChatAdapterTextResponse(t *testing.T) {
	srv := chatServer(t, 200, `{
		"id": "gen-1",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "hi there"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 99}
	}`, func(r *http.Request, payload map[string]any) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "openai/gpt-5-codex", payload["model"])
		assert.EqualValues(t, 128, payload["max_tokens"])
	})

	a := NewChatAdapter("openrouter", srv.URL+"/", "sk-test")
	maxTokens := 128
	resp, err := a.Complete(context.Background(), Request{
		Model:     "openai/gpt-5-codex",
		Messages:  []Message{UserMessage("hello")},
		MaxTokens: &maxTokens,
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Text())
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 15, resp.Usage.TotalTokens, "prompt+completion wins over total_tokens")
	choice, ok := resp.First()
	require.True(t, ok)
	assert.Equal(t, FinishStop, choice.FinishReason)
}

func TestChatAdapterToolCalls(t *testing.T) {
	srv := chatServer(t, 200, `{
		"choices": [{"message": {"role": "assistant", "content": null, "tool_calls": [
			{"id": "call_a", "type": "function", "function": {"name": "globtool", "arguments": "{\"pattern\":\"*.go\"}"}},
			{"id": "call_b", "type": "function", "function": {"name": "lstool", "arguments": "{}"}}
		]}, "finish_reason": "tool_calls"}],
		"usage": {"input_tokens": 4, "output_tokens": 6}
	}`, func(r *http.Request, payload map[string]any) {
		tools, ok := payload["tools"].([]any)
		require.True(t, ok)
		require.Len(t, tools, 1)
		entry := tools[0].(map[string]any)
		assert.Equal(t, "function", entry["type"])
		assert.Equal(t, "globtool", entry["function"].(map[string]any)["name"])
	})

	a := NewChatAdapter("openrouter", srv.URL, "k")
	resp, err := a.Complete(context.Background(), Request{
		Model:    "m",
		Messages: []Message{UserMessage("list go files")},
		ToolDefs: []ToolDefinition{{Name: "globtool", Description: "find files", Parameters: map[string]any{"type": "object"}}},
	})
	require.NoError(t, err)

	choice, _ := resp.First()
	require.NotNil(t, choice.Message)
	calls := choice.Message.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "call_a", calls[0].ID)
	assert.Equal(t, "globtool", calls[0].Name)
	assert.JSONEq(t, `{"pattern":"*.go"}`, string(calls[0].Arguments))
	assert.Equal(t, "call_b", calls[1].ID)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
}

func TestChatAdapterMissingMessage(t *testing.T) {
	srv := chatServer(t, 200, `{"choices": [{"finish_reason": "stop"}], "usage": {"total_tokens": 7}}`, nil)
	resp, err := NewChatAdapter("lmstudio", srv.URL, "").Complete(context.Background(), Request{Model: "m"})
	require.NoError(t, err)
	choice, ok := resp.First()
	require.True(t, ok)
	assert.Nil(t, choice.Message)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
}

func TestChatAdapterStatusErrors(t *testing.T) {
	srv := chatServer(t, 401, `{"error": {"message": "No auth credentials found", "code": 401}}`, nil)
	_, err := NewChatAdapter("openrouter", srv.URL, "bad").Complete(context.Background(), Request{Model: "m"})

	var authErr *AuthenticationError
	require.True(t, errors.As(err, &authErr), "got %T", err)
	assert.Equal(t, "No auth credentials found", authErr.Message)
	assert.False(t, IsRetryable(err))
}

func TestChatAdapterSerializesConversation(t *testing.T) {
	var captured []any
	srv := chatServer(t, 200, `{"choices": [{"message": {"content": "ok"}, "finish_reason": "stop"}]}`,
		func(r *http.Request, payload map[string]any) {
			captured = payload["messages"].([]any)
		})

	assistant := Message{Role: RoleAssistant, Content: []ContentPart{
		ToolCallPart("call_1", "bashtool", json.RawMessage(`{"command":"ls"}`)),
	}}
	user := Message{Role: RoleUser, Content: []ContentPart{
		TextPart("what is this?"),
		ImageDataPart([]byte{0x89, 0x50}, "image/png", ""),
	}}
	_, err := NewChatAdapter("openrouter", srv.URL, "k").Complete(context.Background(), Request{
		Model:    "m",
		Messages: []Message{user, assistant, ToolResultMessage("call_1", "bashtool", "a.txt", false)},
	})
	require.NoError(t, err)
	require.Len(t, captured, 3)

	parts := captured[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	img := parts[1].(map[string]any)
	assert.Equal(t, "image_url", img["type"])
	assert.Equal(t, "data:image/png;base64,iVA=", img["image_url"].(map[string]any)["url"])

	calls := captured[1].(map[string]any)["tool_calls"].([]any)
	fn := calls[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, `{"command":"ls"}`, fn["arguments"])

	tool := captured[2].(map[string]any)
	assert.Equal(t, "tool", tool["role"])
	assert.Equal(t, "call_1", tool["tool_call_id"])
	assert.Equal(t, "bashtool", tool["name"])
	assert.Equal(t, "a.txt", tool["content"])
}

func TestChatAdapterCancellation(t *testing.T) {
	srv := chatServer(t, 200, `{}`, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewChatAdapter("openrouter", srv.URL, "k").Complete(ctx, Request{Model: "m"})
	require.Error(t, err)
	assert.True(t, IsCancellation(err))
}

func TestInitializeAdapterRejectsMissingBaseURL(t *testing.T) {
	err := InitializeAdapter(NewChatAdapter("lmstudio", "", ""))
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))

	assert.NoError(t, InitializeAdapter(NewChatAdapter("lmstudio", "http://localhost:1234/v1", "")))
}
