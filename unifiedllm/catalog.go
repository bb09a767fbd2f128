package unifiedllm

// Provider kinds understood by the session's adapter factory.
const (
	KindOpenRouter = "openrouter"
	KindLMStudio   = "lmstudio"
	KindGemini     = "gemini"
	KindGollm      = "gollm"
)

// ModelInfo describes a selectable model in the built-in catalog.
type ModelInfo struct {
	ID             string   `json:"id"`
	Provider       string   `json:"provider"`
	DisplayName    string   `json:"display_name"`
	WireModel      string   `json:"wire_model,omitempty"` // name sent to the endpoint when it differs from ID
	Backend        string   `json:"backend,omitempty"`    // gollm provider name
	ContextWindow  int      `json:"context_window"`
	SupportsTools  bool     `json:"supports_tools"`
	SupportsVision bool     `json:"supports_vision"`
	Aliases        []string `json:"aliases,omitempty"`
}

// Model returns the name to put in the request "model" field.
func (m ModelInfo) Model() string {
	if m.WireModel != "" {
		return m.WireModel
	}
	return m.ID
}

// Models is the built-in catalog. The first entry is the default model.
var Models = []ModelInfo{
	{
		ID: "openai/gpt-5-codex", Provider: KindOpenRouter, DisplayName: "OpenAI GPT-5 Codex",
		ContextWindow: 400000, SupportsTools: true, SupportsVision: true,
		Aliases: []string{"codex"},
	},
	{
		ID: "anthropic/claude-sonnet-4", Provider: KindOpenRouter, DisplayName: "Claude Sonnet 4",
		ContextWindow: 200000, SupportsTools: true, SupportsVision: true,
		Aliases: []string{"sonnet"},
	},
	{
		ID: "x-ai/grok-3-mini-beta", Provider: KindOpenRouter, DisplayName: "Grok 3 Mini Beta",
		ContextWindow: 131072, SupportsTools: true,
		Aliases: []string{"grok"},
	},
	{
		ID: "anthropic/claude-3-5-haiku", Provider: KindOpenRouter, DisplayName: "Claude 3.5 Haiku",
		ContextWindow: 200000, SupportsTools: true, SupportsVision: true,
		Aliases: []string{"haiku"},
	},
	{
		ID: "google/gemini-2.5-pro-preview-03-25", Provider: KindOpenRouter, DisplayName: "Gemini 2.5 Pro Preview",
		ContextWindow: 1048576, SupportsTools: true, SupportsVision: true,
	},
	{
		ID: "moonshotai/kimi-k2:free", Provider: KindOpenRouter, DisplayName: "Kimi K2 (free)",
		ContextWindow: 65536, SupportsTools: true,
	},
	{
		ID: "moonshotai/kimi-k2", Provider: KindOpenRouter, DisplayName: "Kimi K2",
		ContextWindow: 131072, SupportsTools: true,
		Aliases: []string{"kimi"},
	},
	{
		ID: "lmstudio/local", Provider: KindLMStudio, DisplayName: "LM Studio (local)",
		WireModel: "local-model", ContextWindow: 32768, SupportsTools: true,
		Aliases: []string{"local"},
	},
	{
		ID: "gemini/gemini-2.5-flash", Provider: KindGemini, DisplayName: "Gemini 2.5 Flash (direct)",
		WireModel: "gemini-2.5-flash", ContextWindow: 1048576, SupportsTools: true, SupportsVision: true,
		Aliases: []string{"flash"},
	},
	{
		ID: "ollama/llama3.1", Provider: KindGollm, DisplayName: "Llama 3.1 (Ollama)",
		WireModel: "llama3.1", Backend: "ollama", ContextWindow: 131072,
	},
}

// DefaultModelID is the model selected when none is configured.
const DefaultModelID = "openai/gpt-5-codex"

// GetModelInfo returns the catalog entry for a model id or alias, or nil.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ListModels returns all known models, optionally filtered by provider kind.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		result := make([]ModelInfo, len(Models))
		copy(result, Models)
		return result
	}
	var result []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}
