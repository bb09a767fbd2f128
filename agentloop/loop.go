package agentloop

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/martinemde/coderoute/unifiedllm"
)

// Fixed replies of the completion loop.
const (
	MsgBudgetExhausted = "Token limit reached! Please type 'reset' to start a new conversation."
	MsgInvalidResponse = "Error: Invalid response from API"
	MsgInvalidMessage  = "Error: Invalid message format in response"
	MsgNoContent       = "No response content available."
)

// Completer sends one request to a completion endpoint. *unifiedllm.Client
// satisfies it.
type Completer interface {
	Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error)
}

// Manifester supplies the capability manifest for a request.
type Manifester interface {
	Manifest() []unifiedllm.ToolDefinition
}

// LoopConfig tunes one run of the completion loop.
type LoopConfig struct {
	MaxTokens           int
	Temperature         float64
	MaxRoundTrips       int
	LoopDetection       bool
	LoopDetectionWindow int
}

// CompletionLoop drives request/dispatch cycles until the model produces a
// final answer or a stop condition is hit.
type CompletionLoop struct {
	client     Completer
	store      *ConversationStore
	manifest   Manifester
	dispatcher *Dispatcher
	budget     *TokenBudget
	config     LoopConfig
	logger     *zap.Logger
	emitter    *EventEmitter
}

// NewCompletionLoop wires a loop. logger and emitter may be nil.
func NewCompletionLoop(client Completer, store *ConversationStore, manifest Manifester, dispatcher *Dispatcher, budget *TokenBudget, config LoopConfig, logger *zap.Logger, emitter *EventEmitter) *CompletionLoop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxRoundTrips <= 0 {
		config.MaxRoundTrips = 200
	}
	return &CompletionLoop{
		client:     client,
		store:      store,
		manifest:   manifest,
		dispatcher: dispatcher,
		budget:     budget,
		config:     config,
		logger:     logger,
		emitter:    emitter,
	}
}

// Run completes the conversation currently in the store using profile. The
// returned text is what the user sees. The error is non-nil only when ctx
// was cancelled, in which case nothing from the interrupted round is kept.
func (l *CompletionLoop) Run(ctx context.Context, profile ModelProfile) (string, error) {
	for round := 0; ; round++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if round >= l.config.MaxRoundTrips {
			l.emitter.Emit(EventTurnLimit, map[string]any{"round_trips": round})
			l.logger.Warn("round trip limit reached", zap.Int("limit", l.config.MaxRoundTrips))
			return fmt.Sprintf("Error: exceeded maximum of %d tool round trips", l.config.MaxRoundTrips), nil
		}

		maxTokens := min(l.config.MaxTokens, l.budget.Remaining())
		if maxTokens <= 0 {
			l.emitter.Emit(EventBudgetExhausted, map[string]any{"used": l.budget.Used(), "ceiling": l.budget.Ceiling()})
			return MsgBudgetExhausted, nil
		}

		resp, err := l.call(ctx, profile, maxTokens)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			l.logger.Error("completion failed", zap.String("model", profile.ID), zap.Error(err))
			l.emitter.Emit(EventError, map[string]any{"error": err.Error()})
			return "Error: " + err.Error(), nil
		}

		if resp.Usage != nil {
			total := l.budget.Add(resp.Usage.TotalTokens)
			l.emitter.Emit(EventCompletionEnd, map[string]any{
				"input_tokens":  resp.Usage.InputTokens,
				"output_tokens": resp.Usage.OutputTokens,
				"tokens":        resp.Usage.TotalTokens,
				"total":         total,
				"remaining":     l.budget.Remaining(),
			})
			if remaining := l.budget.Remaining(); remaining > 0 && remaining < LowBudgetThreshold {
				l.emitter.Emit(EventBudgetWarning, map[string]any{"remaining": remaining})
			}
		} else {
			l.emitter.Emit(EventCompletionEnd, map[string]any{"total": l.budget.Used()})
		}

		if l.budget.Exhausted() {
			l.emitter.Emit(EventBudgetExhausted, map[string]any{"used": l.budget.Used(), "ceiling": l.budget.Ceiling()})
			return MsgBudgetExhausted, nil
		}

		choice, ok := resp.First()
		if !ok {
			return MsgInvalidResponse, nil
		}
		if choice.Message == nil {
			return MsgInvalidMessage, nil
		}

		calls := capabilityCalls(choice.Message.ToolCalls())
		if choice.FinishReason == unifiedllm.FinishToolCalls && len(calls) > 0 {
			outcomes, err := l.dispatcher.CallAll(ctx, calls)
			if err != nil {
				return "", err
			}
			batch := make([]Turn, 0, len(outcomes)+1)
			batch = append(batch, NewAssistantTurn(choice.Message.TextContent(), calls))
			for _, o := range outcomes {
				batch = append(batch, l.dispatcher.ResultTurn(o))
			}
			l.store.Append(batch...)
			l.detectLoop()
			continue
		}

		text := choice.Message.TextContent()
		if text == "" {
			return MsgNoContent, nil
		}
		l.store.Append(NewAssistantTurn(text, nil))
		return text, nil
	}
}

func (l *CompletionLoop) call(ctx context.Context, profile ModelProfile, maxTokens int) (*unifiedllm.Response, error) {
	temperature := l.config.Temperature
	req := unifiedllm.Request{
		Model:       profile.Model,
		Provider:    profile.ID,
		Messages:    l.store.ToWire(LeadInstructions),
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}
	if profile.Provider != unifiedllm.KindGollm || profile.SupportsTools {
		req.ToolDefs = l.manifest.Manifest()
	}

	l.emitter.Emit(EventCompletionStart, map[string]any{
		"model":      profile.ID,
		"messages":   len(req.Messages),
		"tools":      len(req.ToolDefs),
		"max_tokens": maxTokens,
	})
	resp, err := l.client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &unifiedllm.Response{}, nil
	}
	return resp, nil
}

func (l *CompletionLoop) detectLoop() {
	if !l.config.LoopDetection {
		return
	}
	window := l.config.LoopDetectionWindow
	if DetectLoop(l.store.All(), window) {
		msg := fmt.Sprintf("Loop detected: the last %d tool calls follow a repeating pattern.", window)
		l.logger.Warn("tool call loop detected", zap.Int("window", window))
		l.emitter.Emit(EventLoopDetection, map[string]any{"message": msg})
	}
}

// capabilityCalls converts endpoint tool calls, assigning ids to calls the
// endpoint left unnamed.
func capabilityCalls(in []unifiedllm.ToolCallData) []CapabilityCall {
	out := make([]CapabilityCall, 0, len(in))
	for _, tc := range in {
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		out = append(out, CapabilityCall{ID: id, Name: tc.Name, Arguments: tc.Arguments})
	}
	return out
}
