package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/martinemde/coderoute/unifiedllm"
)

func TestMain(m *testing.M) {
	// opencensus (via genai) starts a worker goroutine in its package init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type step func(req unifiedllm.Request) (*unifiedllm.Response, error)

// scriptedCompleter answers each Complete call with the next step.
type scriptedCompleter struct {
	mu       sync.Mutex
	steps    []step
	requests []unifiedllm.Request
}

func newScripted(steps ...step) *scriptedCompleter {
	return &scriptedCompleter{steps: steps}
}

func (c *scriptedCompleter) Complete(_ context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	n := len(c.requests)
	c.mu.Unlock()
	if n > len(c.steps) {
		return nil, errors.New("unexpected completion call")
	}
	return c.steps[n-1](req)
}

func (c *scriptedCompleter) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *scriptedCompleter) request(i int) unifiedllm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[i]
}

func reply(text string, tokens int) step {
	return func(unifiedllm.Request) (*unifiedllm.Response, error) {
		return textResponse(text, tokens), nil
	}
}

func callTools(tokens int, calls ...unifiedllm.ToolCallData) step {
	return func(unifiedllm.Request) (*unifiedllm.Response, error) {
		msg := unifiedllm.Message{Role: unifiedllm.RoleAssistant}
		for _, c := range calls {
			msg.Content = append(msg.Content, unifiedllm.ToolCallPart(c.ID, c.Name, c.Arguments))
		}
		return &unifiedllm.Response{
			Choices: []unifiedllm.Choice{{Message: &msg, FinishReason: unifiedllm.FinishToolCalls}},
			Usage:   &unifiedllm.Usage{TotalTokens: tokens},
		}, nil
	}
}

func fail(err error) step {
	return func(unifiedllm.Request) (*unifiedllm.Response, error) { return nil, err }
}

func textResponse(text string, tokens int) *unifiedllm.Response {
	msg := unifiedllm.AssistantMessage(text)
	return &unifiedllm.Response{
		Choices: []unifiedllm.Choice{{Message: &msg, FinishReason: unifiedllm.FinishStop}},
		Usage:   &unifiedllm.Usage{InputTokens: tokens / 2, OutputTokens: tokens - tokens/2, TotalTokens: tokens},
	}
}

func toolCall(id, name, args string) unifiedllm.ToolCallData {
	return unifiedllm.ToolCallData{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

// globCapability mimics a file finder with a fixed listing.
func globCapability() Capability {
	return Func(Descriptor{
		Name:        "globtool",
		Description: "Find files by pattern",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"pattern": map[string]any{"type": "string"}},
			"required":   []any{"pattern"},
		},
	}, func(_ context.Context, args map[string]any) (any, error) {
		pattern, _ := StringArg(args, "pattern")
		if pattern == "*.py" {
			return "main.py\nutil.py", nil
		}
		return "No files found matching the pattern", nil
	})
}

func staticCapability(name string, value any, err error) Capability {
	return Func(Descriptor{Name: name, Description: name + " capability"}, func(context.Context, map[string]any) (any, error) {
		return value, err
	})
}

func builtins(caps ...Capability) *BuiltinSource {
	factories := make([]Factory, len(caps))
	for i, c := range caps {
		factories[i] = Factory{Module: c.Name(), New: func() (Capability, error) { return c, nil }}
	}
	return NewBuiltinSource(factories...)
}

func loadedRegistry(t *testing.T, caps ...Capability) *Registry {
	t.Helper()
	r := NewRegistry([]Source{builtins(caps...)})
	r.Load(context.Background())
	return r
}
