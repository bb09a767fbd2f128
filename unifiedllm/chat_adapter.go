package unifiedllm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultChatTimeout = 120 * time.Second

// ChatAdapter talks to an OpenAI-compatible /chat/completions endpoint.
// OpenRouter and LM Studio both speak this protocol.
type ChatAdapter struct {
	name    string
	baseURL string
	apiKey  string
	headers map[string]string
	client  *http.Client
	logger  *zap.Logger
}

// ChatAdapterOption configures a ChatAdapter.
type ChatAdapterOption func(*ChatAdapter)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) ChatAdapterOption {
	return func(a *ChatAdapter) { a.client = c }
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) ChatAdapterOption {
	return func(a *ChatAdapter) { a.headers[key] = value }
}

// WithRequestTimeout bounds a single completion request.
func WithRequestTimeout(d time.Duration) ChatAdapterOption {
	return func(a *ChatAdapter) {
		if d > 0 {
			a.client.Timeout = d
		}
	}
}

// WithChatLogger sets the adapter logger.
func WithChatLogger(l *zap.Logger) ChatAdapterOption {
	return func(a *ChatAdapter) { a.logger = l }
}

// NewChatAdapter creates an adapter posting to baseURL + "/chat/completions".
func NewChatAdapter(name, baseURL, apiKey string, opts ...ChatAdapterOption) *ChatAdapter {
	a := &ChatAdapter{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		headers: map[string]string{},
		client:  &http.Client{Timeout: defaultChatTimeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the adapter identifier.
func (a *ChatAdapter) Name() string { return a.name }

// Initialize fails when no endpoint is configured.
func (a *ChatAdapter) Initialize() error {
	if a.baseURL == "" {
		return NewConfigurationError("%s: no base URL configured", a.name)
	}
	return nil
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type wirePart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type wireTool struct {
	Type     string         `json:"type"`
	Function ToolDefinition `json:"function"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type responseMessage struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	ToolCalls []wireToolCall  `json:"tool_calls"`
}

type chatChoice struct {
	Index        int              `json:"index"`
	Message      *responseMessage `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

type chatResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []chatChoice   `json:"choices"`
	Usage   map[string]any `json:"usage"`
	Error   *apiError      `json:"error"`
}

// Complete sends the request and returns the parsed response.
func (a *ChatAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(a.translateRequest(req))
	if err != nil {
		return nil, &SDKError{Message: "marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &SDKError{Message: "create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	for k, v := range a.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: ctx.Err()}}
		}
		return nil, &NetworkError{SDKError: SDKError{Message: "http request", Cause: err}}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{SDKError: SDKError{Message: "read response", Cause: err}}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, a.statusError(resp, raw)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &SDKError{Message: "unmarshal response", Cause: err}
	}
	if parsed.Error != nil {
		return nil, &ProviderError{
			SDKError:  SDKError{Message: parsed.Error.Message},
			Provider:  a.name,
			ErrorCode: fmt.Sprint(parsed.Error.Code),
		}
	}

	a.logger.Debug("chat completion response",
		zap.String("adapter", a.name),
		zap.Int("choices", len(parsed.Choices)),
		zap.Int("bytes", len(raw)))

	return a.buildResponse(req, parsed), nil
}

func (a *ChatAdapter) statusError(resp *http.Response, raw []byte) error {
	message := strings.TrimSpace(string(raw))
	code := ""
	var envelope struct {
		Error *apiError `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != nil {
		message = envelope.Error.Message
		if envelope.Error.Code != nil {
			code = fmt.Sprint(envelope.Error.Code)
		}
	}
	if message == "" {
		message = resp.Status
	}

	var retryAfter *float64
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			retryAfter = &secs
		}
	}
	return ErrorFromStatusCode(resp.StatusCode, message, a.name, code, nil, retryAfter)
}

func (a *ChatAdapter) translateRequest(req Request) chatRequest {
	out := chatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, toWireMessage(m))
	}
	for _, t := range req.ToolDefs {
		out.Tools = append(out.Tools, wireTool{Type: "function", Function: t})
	}
	return out
}

func toWireMessage(m Message) wireMessage {
	wm := wireMessage{Role: string(m.Role), Name: m.Name, ToolCallID: m.ToolCallID}

	switch m.Role {
	case RoleTool:
		for _, p := range m.Content {
			if p.Kind == ContentToolResult && p.ToolResult != nil {
				wm.Content = p.ToolResult.Content
				if wm.ToolCallID == "" {
					wm.ToolCallID = p.ToolResult.ToolCallID
				}
			}
		}
		if wm.Content == nil {
			wm.Content = ""
		}
		return wm
	case RoleAssistant:
		for _, tc := range m.ToolCalls() {
			args := string(tc.Arguments)
			if args == "" {
				args = "{}"
			}
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: wireFunction{Name: tc.Name, Arguments: args},
			})
		}
		if text := m.TextContent(); text != "" || len(wm.ToolCalls) == 0 {
			wm.Content = text
		}
		return wm
	}

	if !m.HasImages() {
		wm.Content = m.TextContent()
		return wm
	}
	parts := make([]wirePart, 0, len(m.Content))
	for _, p := range m.Content {
		switch p.Kind {
		case ContentText:
			parts = append(parts, wirePart{Type: "text", Text: p.Text})
		case ContentImage:
			if p.Image != nil {
				parts = append(parts, wirePart{
					Type:     "image_url",
					ImageURL: &wireImageURL{URL: p.Image.DataURL(), Detail: p.Image.Detail},
				})
			}
		}
	}
	wm.Content = parts
	return wm
}

func (a *ChatAdapter) buildResponse(req Request, parsed chatResponse) *Response {
	out := &Response{
		ID:       parsed.ID,
		Model:    parsed.Model,
		Provider: a.name,
	}
	if out.ID == "" {
		out.ID = "resp_" + uuid.NewString()[:8]
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	if parsed.Usage != nil {
		u := ParseUsage(parsed.Usage)
		out.Usage = &u
	}

	for _, c := range parsed.Choices {
		choice := Choice{Index: c.Index, FinishReason: c.FinishReason}
		if c.Message != nil {
			msg := Message{Role: RoleAssistant}
			if text := decodeContent(c.Message.Content); text != "" {
				msg.Content = append(msg.Content, TextPart(text))
			}
			for _, tc := range c.Message.ToolCalls {
				id := tc.ID
				if id == "" {
					id = "call_" + uuid.NewString()[:8]
				}
				msg.Content = append(msg.Content, ToolCallPart(id, tc.Function.Name, json.RawMessage(tc.Function.Arguments)))
			}
			choice.Message = &msg
		}
		out.Choices = append(out.Choices, choice)
	}
	return out
}

// decodeContent accepts either a JSON string or an array of text parts.
func decodeContent(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []wirePart
	if err := json.Unmarshal(raw, &parts); err == nil {
		var sb strings.Builder
		for _, p := range parts {
			if p.Type == "text" {
				sb.WriteString(p.Text)
			}
		}
		return sb.String()
	}
	return ""
}

// IsCancellation reports whether err stems from the caller cancelling ctx.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
