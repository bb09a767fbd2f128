package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// GenAIAdapter calls Gemini models directly through the Google GenAI SDK.
type GenAIAdapter struct {
	name   string
	client *genai.Client
}

// NewGenAIAdapter creates a Gemini adapter authenticated with apiKey.
func NewGenAIAdapter(ctx context.Context, name, apiKey string, httpClient *http.Client) (*GenAIAdapter, error) {
	if apiKey == "" {
		return nil, NewConfigurationError("%s: GEMINI_API_KEY is not set", name)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAIAdapter{name: name, client: client}, nil
}

// Name returns the adapter identifier.
func (a *GenAIAdapter) Name() string { return a.name }

// Complete sends the conversation to Models.GenerateContent.
func (a *GenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	contents, system := toGenAIContents(req.Messages)
	cfg := &genai.GenerateContentConfig{SystemInstruction: system}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		cfg.Temperature = &t
	}
	if req.MaxTokens != nil {
		cfg.MaxOutputTokens = int32(*req.MaxTokens)
	}
	if len(req.ToolDefs) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.ToolDefs))
		for _, t := range req.ToolDefs {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := a.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, a.translateError(ctx, err)
	}
	return fromGenAIResponse(a.name, req.Model, resp), nil
}

func (a *GenAIAdapter) translateError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: ctx.Err()}}
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return ErrorFromStatusCode(apiErr.Code, apiErr.Message, a.name, apiErr.Status, nil, nil)
	}
	return &NetworkError{SDKError: SDKError{Message: "genai request", Cause: err}}
}

// toGenAIContents maps the unified conversation onto Gemini contents. System
// messages become the system instruction; tool results travel as function
// responses in a user-role content.
func toGenAIContents(msgs []Message) ([]*genai.Content, *genai.Content) {
	var system *genai.Content
	var out []*genai.Content

	push := func(role string, parts ...*genai.Part) {
		if len(parts) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, parts...)
			return
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}

	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			if system == nil {
				system = &genai.Content{}
			}
			system.Parts = append(system.Parts, &genai.Part{Text: m.TextContent()})
		case RoleAssistant:
			var parts []*genai.Part
			if text := m.TextContent(); text != "" {
				parts = append(parts, &genai.Part{Text: text})
			}
			for _, tc := range m.ToolCalls() {
				args := map[string]any{}
				if len(tc.Arguments) > 0 {
					_ = json.Unmarshal(tc.Arguments, &args)
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
			}
			push(genai.RoleModel, parts...)
		case RoleTool:
			for _, p := range m.Content {
				if p.Kind != ContentToolResult || p.ToolResult == nil {
					continue
				}
				key := "output"
				if p.ToolResult.IsError {
					key = "error"
				}
				push(genai.RoleUser, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       p.ToolResult.ToolCallID,
					Name:     m.Name,
					Response: map[string]any{key: p.ToolResult.Content},
				}})
			}
		default:
			var parts []*genai.Part
			for _, p := range m.Content {
				switch p.Kind {
				case ContentText:
					parts = append(parts, &genai.Part{Text: p.Text})
				case ContentImage:
					if p.Image == nil {
						continue
					}
					if len(p.Image.Data) > 0 {
						parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: p.Image.MediaType, Data: p.Image.Data}})
					} else if p.Image.URL != "" {
						parts = append(parts, &genai.Part{FileData: &genai.FileData{FileURI: p.Image.URL, MIMEType: p.Image.MediaType}})
					}
				}
			}
			push(genai.RoleUser, parts...)
		}
	}
	return out, system
}

func fromGenAIResponse(name, model string, resp *genai.GenerateContentResponse) *Response {
	out := &Response{ID: "resp_" + uuid.NewString()[:8], Model: model, Provider: name}
	if resp == nil {
		return out
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if um := resp.UsageMetadata; um != nil {
		out.Usage = &Usage{
			InputTokens:  int(um.PromptTokenCount),
			OutputTokens: int(um.CandidatesTokenCount),
			TotalTokens:  int(um.PromptTokenCount) + int(um.CandidatesTokenCount),
		}
		if out.Usage.TotalTokens == 0 {
			out.Usage.TotalTokens = int(um.TotalTokenCount)
		}
	}

	for i, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		choice := Choice{Index: i, FinishReason: strings.ToLower(string(cand.FinishReason))}
		if cand.Content != nil {
			msg := Message{Role: RoleAssistant}
			var text strings.Builder
			for _, p := range cand.Content.Parts {
				if p == nil {
					continue
				}
				if p.FunctionCall != nil {
					id := p.FunctionCall.ID
					if id == "" {
						id = "call_" + uuid.NewString()[:8]
					}
					args, _ := json.Marshal(p.FunctionCall.Args)
					msg.Content = append(msg.Content, ToolCallPart(id, p.FunctionCall.Name, args))
					continue
				}
				if p.Text != "" && !p.Thought {
					text.WriteString(p.Text)
				}
			}
			if text.Len() > 0 {
				msg.Content = append([]ContentPart{TextPart(text.String())}, msg.Content...)
			}
			if len(msg.ToolCalls()) > 0 {
				choice.FinishReason = FinishToolCalls
			}
			choice.Message = &msg
		}
		out.Choices = append(out.Choices, choice)
	}
	return out
}
