package agentloop

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/martinemde/coderoute/unifiedllm"
)

// ProviderFactory builds the adapter that serves a profile.
type ProviderFactory func(ctx context.Context, p ModelProfile) (unifiedllm.ProviderAdapter, error)

// DefaultProviderFactory maps provider kinds to adapters: openrouter and
// lmstudio speak chat completions over HTTP, gemini goes through genai and
// gollm wraps any backend gollm supports.
func DefaultProviderFactory(logger *zap.Logger, timeout time.Duration) ProviderFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, p ModelProfile) (unifiedllm.ProviderAdapter, error) {
		switch p.Provider {
		case unifiedllm.KindOpenRouter, unifiedllm.KindLMStudio:
			opts := []unifiedllm.ChatAdapterOption{
				unifiedllm.WithChatLogger(logger.Named(p.Provider)),
				unifiedllm.WithRequestTimeout(timeout),
			}
			if p.Provider == unifiedllm.KindOpenRouter {
				opts = append(opts,
					unifiedllm.WithHeader("HTTP-Referer", "https://github.com/martinemde/coderoute"),
					unifiedllm.WithHeader("X-Title", "coderoute"))
			}
			return unifiedllm.NewChatAdapter(p.Provider, p.BaseURL, p.APIKey, opts...), nil
		case unifiedllm.KindGemini:
			return unifiedllm.NewGenAIAdapter(ctx, p.Provider, p.APIKey, &http.Client{Timeout: timeout})
		case unifiedllm.KindGollm:
			opts := []unifiedllm.GollmAdapterOption{unifiedllm.WithModel(p.Model)}
			if p.APIKey != "" {
				opts = append(opts, unifiedllm.WithAPIKey(p.APIKey))
			}
			return unifiedllm.NewGollmAdapter(p.Backend, opts...)
		default:
			return nil, unifiedllm.NewConfigurationError("unknown provider kind %q for model '%s'", p.Provider, p.ID)
		}
	}
}
