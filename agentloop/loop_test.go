package agentloop

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/coderoute/unifiedllm"
)

var testProfile = ModelProfile{ID: "test/model", Provider: unifiedllm.KindOpenRouter, Model: "test-model", APIKey: "k", SupportsTools: true}

type loopFixture struct {
	loop   *CompletionLoop
	store  *ConversationStore
	budget *TokenBudget
	events *EventEmitter
}

func newLoopFixture(t *testing.T, client Completer, ceiling int, caps ...Capability) loopFixture {
	t.Helper()
	registry := loadedRegistry(t, caps...)
	store := NewConversationStore()
	budget := NewTokenBudget(ceiling)
	events := NewEventEmitter("test", 512)
	loop := NewCompletionLoop(client, store, registry, NewDispatcher(registry, WithDispatchEmitter(events)), budget,
		LoopConfig{MaxTokens: 20000, Temperature: 0.2, MaxRoundTrips: 5}, nil, events)
	return loopFixture{loop: loop, store: store, budget: budget, events: events}
}

func TestLoopToolCallsThenFinalAnswer(t *testing.T) {
	client := newScripted(
		callTools(100,
			toolCall("call_1", "globtool", `{"pattern":"*.py"}`),
			toolCall("call_2", "doesnotexist", `{}`),
		),
		reply("There are two Python files.", 50),
	)
	f := newLoopFixture(t, client, 1_000_000, globCapability())
	f.store.Append(NewUserTurn("find python files"))

	text, err := f.loop.Run(context.Background(), testProfile)
	require.NoError(t, err)
	assert.Equal(t, "There are two Python files.", text)

	turns := f.store.All()
	require.Len(t, turns, 5)
	assert.Equal(t, TurnAssistant, turns[1].Kind)
	require.Len(t, turns[1].Assistant.Calls, 2)

	require.Equal(t, TurnToolResult, turns[2].Kind)
	assert.Equal(t, "call_1", turns[2].ToolResult.CallID)
	assert.Equal(t, "main.py\nutil.py", turns[2].ToolResult.Content)
	assert.False(t, turns[2].ToolResult.IsError)

	require.Equal(t, TurnToolResult, turns[3].Kind)
	assert.Equal(t, "call_2", turns[3].ToolResult.CallID)
	assert.Equal(t, "Tool not found: doesnotexist", turns[3].ToolResult.Content)
	assert.True(t, turns[3].ToolResult.IsError)

	assert.Equal(t, "There are two Python files.", turns[4].Assistant.Text)
	assert.Equal(t, 150, f.budget.Used())

	// The second request carries both results in call order.
	second := client.request(1)
	var toolMsgs []string
	for _, m := range second.Messages {
		if m.Role == unifiedllm.RoleTool {
			toolMsgs = append(toolMsgs, m.ToolCallID)
		}
	}
	assert.Equal(t, []string{"call_1", "call_2"}, toolMsgs)
	assert.Len(t, second.ToolDefs, 1)
}

func TestLoopMaxTokensIsClampedToRemainingBudget(t *testing.T) {
	client := newScripted(reply("ok", 10))
	f := newLoopFixture(t, client, 25000)
	f.budget.Add(20000)
	f.store.Append(NewUserTurn("hi"))

	_, err := f.loop.Run(context.Background(), testProfile)
	require.NoError(t, err)
	req := client.request(0)
	require.NotNil(t, req.MaxTokens)
	assert.Equal(t, 5000, *req.MaxTokens)
	assert.Equal(t, "test-model", req.Model)
	assert.Equal(t, "test/model", req.Provider)
}

func TestLoopExhaustedBudgetSkipsEndpoint(t *testing.T) {
	client := newScripted()
	f := newLoopFixture(t, client, 100)
	f.budget.Add(100)
	f.store.Append(NewUserTurn("hi"))

	text, err := f.loop.Run(context.Background(), testProfile)
	require.NoError(t, err)
	assert.Equal(t, MsgBudgetExhausted, text)
	assert.Zero(t, client.calls())
}

func TestLoopChecksBudgetAfterUsage(t *testing.T) {
	// The response overshoots the ceiling; its usage still counts and the
	// pending calls are abandoned.
	client := newScripted(callTools(150, toolCall("c1", "globtool", `{"pattern":"*.py"}`)))
	f := newLoopFixture(t, client, 100, globCapability())
	f.store.Append(NewUserTurn("hi"))

	text, err := f.loop.Run(context.Background(), testProfile)
	require.NoError(t, err)
	assert.Equal(t, MsgBudgetExhausted, text)
	assert.Equal(t, 150, f.budget.Used())
	assert.Equal(t, 1, f.store.Len(), "no batch is appended once the ceiling is hit")
}

func TestLoopMalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		step step
		want string
	}{
		{
			name: "no choices",
			step: func(unifiedllm.Request) (*unifiedllm.Response, error) { return &unifiedllm.Response{}, nil },
			want: MsgInvalidResponse,
		},
		{
			name: "no message",
			step: func(unifiedllm.Request) (*unifiedllm.Response, error) {
				return &unifiedllm.Response{Choices: []unifiedllm.Choice{{FinishReason: unifiedllm.FinishStop}}}, nil
			},
			want: MsgInvalidMessage,
		},
		{
			name: "empty text",
			step: reply("", 3),
			want: MsgNoContent,
		},
		{
			name: "tool_calls without calls",
			step: func(unifiedllm.Request) (*unifiedllm.Response, error) {
				msg := unifiedllm.AssistantMessage("")
				return &unifiedllm.Response{Choices: []unifiedllm.Choice{{Message: &msg, FinishReason: unifiedllm.FinishToolCalls}}}, nil
			},
			want: MsgNoContent,
		},
		{
			name: "transport error",
			step: fail(errors.New("connection reset")),
			want: "Error: connection reset",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLoopFixture(t, newScripted(tt.step), 1000)
			f.store.Append(NewUserTurn("hi"))
			text, err := f.loop.Run(context.Background(), testProfile)
			require.NoError(t, err)
			assert.Equal(t, tt.want, text)
			assert.Equal(t, 1, f.store.Len())
		})
	}
}

func TestLoopStopsAtRoundTripLimit(t *testing.T) {
	var steps []step
	for range 6 {
		steps = append(steps, callTools(1, toolCall("", "globtool", `{"pattern":"*.go"}`)))
	}
	client := newScripted(steps...)
	f := newLoopFixture(t, client, 1000, globCapability())
	f.store.Append(NewUserTurn("loop forever"))

	text, err := f.loop.Run(context.Background(), testProfile)
	require.NoError(t, err)
	assert.Equal(t, "Error: exceeded maximum of 5 tool round trips", text)
	assert.Equal(t, 5, client.calls())

	turns := f.store.All()
	require.Len(t, turns, 11)
	assert.NotEmpty(t, turns[1].Assistant.Calls[0].ID, "missing call ids are synthesized")
	assert.Equal(t, turns[1].Assistant.Calls[0].ID, turns[2].ToolResult.CallID)
}

func TestLoopCancellationDiscardsBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancelling := Func(Descriptor{Name: "cancelling"}, func(context.Context, map[string]any) (any, error) {
		cancel()
		return "partial", nil
	})
	client := newScripted(callTools(10,
		toolCall("c1", "cancelling", `{}`),
		toolCall("c2", "cancelling", `{}`),
	))
	f := newLoopFixture(t, client, 1000, cancelling)
	f.store.Append(NewUserTurn("hi"))

	_, err := f.loop.Run(ctx, testProfile)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.store.Len())
}

func TestLoopEmitsCompletionEvents(t *testing.T) {
	f := newLoopFixture(t, newScripted(reply("done", 42)), 1_000_000)
	f.store.Append(NewUserTurn("hi"))
	_, err := f.loop.Run(context.Background(), testProfile)
	require.NoError(t, err)
	f.events.Close()

	var kinds []EventKind
	var end SessionEvent
	for ev := range f.events.Events() {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == EventCompletionEnd {
			end = ev
		}
	}
	assert.Equal(t, []EventKind{EventCompletionStart, EventCompletionEnd}, kinds)
	assert.Equal(t, 42, end.Data["total"])
}

func TestLoopWarnsWhenBudgetRunsLow(t *testing.T) {
	f := newLoopFixture(t, newScripted(reply("done", 100)), 20050)
	f.store.Append(NewUserTurn("hi"))
	_, err := f.loop.Run(context.Background(), testProfile)
	require.NoError(t, err)
	f.events.Close()

	var warned bool
	for ev := range f.events.Events() {
		if ev.Kind == EventBudgetWarning {
			warned = true
			assert.Equal(t, 19950, ev.Data["remaining"])
		}
	}
	assert.True(t, warned)
}
