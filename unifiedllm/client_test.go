package unifiedllm

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// mockAdapter is a test double for ProviderAdapter.
type mockAdapter struct {
	name     string
	response *Response
	err      error
	calls    int
	closed   bool
	lastReq  Request
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func (m *mockAdapter) Close() error {
	m.closed = true
	return nil
}

func newMockAdapter(name, text string) *mockAdapter {
	msg := AssistantMessage(text)
	return &mockAdapter{
		name: name,
		response: &Response{
			ID:       "test_resp",
			Model:    "test-model",
			Provider: name,
			Choices:  []Choice{{Message: &msg, FinishReason: FinishStop}},
			Usage:    &Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30},
		},
	}
}

func TestClientComplete(t *testing.T) {
	mock := newMockAdapter("openrouter", "Hello!")
	client := NewClient(WithProvider("openrouter", mock))

	resp, err := client.Complete(context.Background(), Request{
		Model:    "openai/gpt-5-codex",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "Hello!" {
		t.Errorf("expected text %q, got %q", "Hello!", resp.Text())
	}
	if mock.lastReq.Provider != "openrouter" {
		t.Errorf("expected provider to be filled in, got %q", mock.lastReq.Provider)
	}
}

func TestClientProviderRouting(t *testing.T) {
	codex := newMockAdapter("openrouter", "codex response")
	local := newMockAdapter("lmstudio", "local response")

	client := NewClient(
		WithProvider("openai/gpt-5-codex", codex),
		WithProvider("lmstudio/local", local),
		WithDefaultProvider("openai/gpt-5-codex"),
	)

	resp, err := client.Complete(context.Background(), Request{
		Model:    "local-model",
		Messages: []Message{UserMessage("Hi")},
		Provider: "lmstudio/local",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "local response" {
		t.Errorf("expected local response, got %q", resp.Text())
	}

	resp, err = client.Complete(context.Background(), Request{
		Model:    "whatever",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "codex response" {
		t.Errorf("expected default provider, got %q", resp.Text())
	}
}

func TestClientNoProvider(t *testing.T) {
	client := NewClient()
	_, err := client.Complete(context.Background(), Request{Model: "test-model"})
	if !IsConfigurationError(err) {
		t.Errorf("expected ConfigurationError, got %T", err)
	}
}

func TestClientMiddlewareOrder(t *testing.T) {
	mock := newMockAdapter("test", "response")
	var order []int

	mw := func(id int) Middleware {
		return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
			order = append(order, id)
			resp, err := next(ctx, req)
			order = append(order, -id)
			return resp, err
		}
	}

	client := NewClient(WithProvider("test", mock), WithMiddleware(mw(1), mw(2)))
	if _, err := client.Complete(context.Background(), Request{Model: "m"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []int{1, 2, -2, -1}
	if len(order) != len(expected) {
		t.Fatalf("expected %d middleware calls, got %d", len(expected), len(order))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Errorf("position %d: expected %d, got %d", i, v, order[i])
		}
	}
}

func TestClientRetryMiddleware(t *testing.T) {
	mock := newMockAdapter("test", "eventually")
	failures := 2
	flaky := func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		if failures > 0 {
			failures--
			return nil, ErrorFromStatusCode(502, "bad gateway", "test", "", nil, nil)
		}
		return next(ctx, req)
	}

	client := NewClient(
		WithProvider("test", mock),
		WithMiddleware(RetryMiddleware(fastPolicy(3)), flaky),
	)
	resp, err := client.Complete(context.Background(), Request{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "eventually" {
		t.Errorf("unexpected text %q", resp.Text())
	}
}

func TestClientLoggingMiddleware(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	mock := &mockAdapter{name: "test", err: errors.New("boom")}
	client := NewClient(WithProvider("test", mock), WithMiddleware(LoggingMiddleware(zap.New(core))))

	if _, err := client.Complete(context.Background(), Request{Model: "m"}); err == nil {
		t.Fatal("expected error")
	}
	entries := logs.FilterMessage("completion failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one warn entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["model"] != "m" {
		t.Errorf("expected model field, got %v", entries[0].ContextMap())
	}
}

func TestClientRegisterProviderReplacesAndCloses(t *testing.T) {
	first := newMockAdapter("a", "first")
	second := newMockAdapter("a", "second")
	client := NewClient()

	client.RegisterProvider("a", first)
	client.RegisterProvider("a", second)

	if !first.closed {
		t.Error("expected replaced adapter to be closed")
	}
	if !client.HasProvider("a") {
		t.Error("expected provider a to be registered")
	}
	resp, _ := client.Complete(context.Background(), Request{Model: "m"})
	if resp.Text() != "second" {
		t.Errorf("expected replacement adapter to serve, got %q", resp.Text())
	}
	if err := client.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	if !second.closed {
		t.Error("expected Close to close registered adapters")
	}
}
