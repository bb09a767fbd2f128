// Package unifiedllm is the completion-endpoint layer of coderoute.
//
// # Architecture
//
//   - Shared types: Message, ContentPart, Request, Response with its Choices, Usage
//   - Adapters: ChatAdapter (OpenAI-compatible /chat/completions, used for
//     OpenRouter and LM Studio), GenAIAdapter (Gemini through google.golang.org/genai)
//     and GollmAdapter (any backend gollm supports, e.g. Ollama)
//   - Client: routes a Request to the adapter registered under Request.Provider
//     and runs it through Middleware (LoggingMiddleware, RetryMiddleware)
//   - Errors: ProviderError and friends, classified by ErrorFromStatusCode
//
// # Usage
//
//	adapter := unifiedllm.NewChatAdapter("openrouter", "https://openrouter.ai/api/v1", key)
//	client := unifiedllm.NewClient(
//	    unifiedllm.WithProvider("openai/gpt-5-codex", adapter),
//	    unifiedllm.WithMiddleware(unifiedllm.RetryMiddleware(unifiedllm.DefaultRetryPolicy())),
//	)
//	resp, err := client.Complete(ctx, unifiedllm.Request{
//	    Model:    "openai/gpt-5-codex",
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	})
//
// Endpoints report usage under different field names; ParseUsage folds
// prompt/completion, input/output and total_tokens shapes into one Usage.
package unifiedllm
