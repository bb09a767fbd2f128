// Package config loads coderoute settings from a YAML file and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/martinemde/coderoute/agentloop"
	"github.com/martinemde/coderoute/tools"
	"github.com/martinemde/coderoute/unifiedllm"
)

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = ".coderoute.yaml"

// Version is reported by --version.
const Version = "0.1.0"

const (
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"
	DefaultLMStudioURL   = "http://localhost:1234/v1"
	DefaultLMStudioKey   = "lmstudio"
)

// Config holds all coderoute configuration.
type Config struct {
	// Model is the profile id or alias selected at startup.
	Model                 string  `yaml:"model"`
	MaxTokens             int     `yaml:"max_tokens"`
	MaxConversationTokens int     `yaml:"max_conversation_tokens"`
	Temperature           float64 `yaml:"temperature"`
	MaxRoundTrips         int     `yaml:"max_round_trips"`
	ParallelDispatch      bool    `yaml:"parallel_dispatch"`
	LoopDetection         bool    `yaml:"loop_detection"`
	RequestTimeout        string  `yaml:"request_timeout"`

	// Presentation
	EnableThinking bool `yaml:"enable_thinking"`
	ShowToolUsage  bool `yaml:"show_tool_usage"`

	Providers ProvidersConfig `yaml:"providers"`

	// Profiles adds models to the built-in catalog or replaces catalog
	// entries with the same id.
	Profiles []agentloop.ModelProfile `yaml:"profiles,omitempty"`

	Tools   ToolsConfig   `yaml:"tools"`
	Logging LoggingConfig `yaml:"logging"`
}

// ProvidersConfig holds the endpoint of each provider kind.
type ProvidersConfig struct {
	OpenRouter EndpointConfig `yaml:"openrouter"`
	LMStudio   EndpointConfig `yaml:"lmstudio"`
	Gemini     EndpointConfig `yaml:"gemini"`
	Gollm      EndpointConfig `yaml:"gollm"`
}

type EndpointConfig struct {
	BaseURL string `yaml:"base_url,omitempty"`
	APIKey  string `yaml:"api_key,omitempty"`
}

// ToolsConfig configures the built-in and runtime capabilities.
type ToolsConfig struct {
	PluginDir      string `yaml:"plugin_dir"`
	PluginGOPATH   string `yaml:"plugin_gopath,omitempty"`
	WatchPlugins   bool   `yaml:"watch_plugins"`
	BashTimeout    string `yaml:"bash_timeout"`
	MaxBashTimeout string `yaml:"max_bash_timeout"`
	FetchTimeout   string `yaml:"fetch_timeout"`
	RenderTimeout  string `yaml:"render_timeout"`
	InstallTimeout string `yaml:"install_timeout"`
	PluginTimeout  string `yaml:"plugin_timeout"`

	// RenderJS lets webscrapertool render pages in a headless browser.
	RenderJS   bool   `yaml:"render_js"`
	BrowserBin string `yaml:"browser_bin,omitempty"`

	WeatherAPIKey  string `yaml:"weather_api_key,omitempty"`
	WeatherBaseURL string `yaml:"weather_base_url,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Model:                 unifiedllm.DefaultModelID,
		MaxTokens:             20000,
		MaxConversationTokens: 20000000,
		Temperature:           0.2,
		MaxRoundTrips:         200,
		LoopDetection:         true,
		RequestTimeout:        "5m",

		EnableThinking: true,
		ShowToolUsage:  true,

		Providers: ProvidersConfig{
			OpenRouter: EndpointConfig{BaseURL: DefaultOpenRouterURL},
			LMStudio:   EndpointConfig{BaseURL: DefaultLMStudioURL, APIKey: DefaultLMStudioKey},
		},

		Tools: ToolsConfig{
			PluginDir:      "plugins",
			WatchPlugins:   true,
			BashTimeout:    "120s",
			MaxBashTimeout: "600s",
			FetchTimeout:   "10s",
			RenderTimeout:  "30s",
			InstallTimeout: "5m",
			PluginTimeout:  "2m",
			WeatherBaseURL: tools.DefaultWeatherBaseURL,
		},

		Logging: LoggingConfig{
			Level: "error",
		},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		c.Providers.OpenRouter.APIKey = key
	}
	if url := os.Getenv("OPENROUTER_BASE_URL"); url != "" {
		c.Providers.OpenRouter.BaseURL = url
	}
	if url := os.Getenv("LMSTUDIO_API_BASE"); url != "" {
		c.Providers.LMStudio.BaseURL = url
	}
	if key := os.Getenv("LMSTUDIO_API_KEY"); key != "" {
		c.Providers.LMStudio.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Providers.Gemini.APIKey = key
	}
	if key := os.Getenv("WEATHER_API_KEY"); key != "" {
		c.Tools.WeatherAPIKey = key
	}
	if model := os.Getenv("MODEL"); model != "" {
		c.Model = model
	}

	// Malformed numbers are ignored.
	if n, err := strconv.Atoi(os.Getenv("CODEROUTE_MAX_TOKENS")); err == nil {
		c.MaxTokens = n
	}
	if n, err := strconv.Atoi(os.Getenv("CODEROUTE_MAX_CONVERSATION_TOKENS")); err == nil {
		c.MaxConversationTokens = n
	}

	if dir := os.Getenv("CODEROUTE_PLUGIN_DIR"); dir != "" {
		c.Tools.PluginDir = dir
	}
	if level := os.Getenv("CODEROUTE_LOG_LEVEL"); level != "" {
		c.Logging.Level = strings.ToLower(level)
	}
}

func duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetRequestTimeout returns the per-request provider timeout.
func (c *Config) GetRequestTimeout() time.Duration {
	return duration(c.RequestTimeout, 5*time.Minute)
}

func (c *Config) GetBashTimeout() time.Duration {
	return duration(c.Tools.BashTimeout, 120*time.Second)
}

func (c *Config) GetMaxBashTimeout() time.Duration {
	return duration(c.Tools.MaxBashTimeout, 600*time.Second)
}

func (c *Config) GetFetchTimeout() time.Duration {
	return duration(c.Tools.FetchTimeout, 10*time.Second)
}

func (c *Config) GetRenderTimeout() time.Duration {
	return duration(c.Tools.RenderTimeout, 30*time.Second)
}

func (c *Config) GetInstallTimeout() time.Duration {
	return duration(c.Tools.InstallTimeout, 5*time.Minute)
}

// MaxPluginTimeout caps plugin_timeout.
const MaxPluginTimeout = 10 * time.Minute

// GetPluginTimeout bounds one plugin Execute call.
func (c *Config) GetPluginTimeout() time.Duration {
	return min(duration(c.Tools.PluginTimeout, 2*time.Minute), MaxPluginTimeout)
}

// ValidLogLevels lists the accepted logging.level values.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// Validate reports settings that make a session unusable. Credentials are
// checked per model when it is selected.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("no model configured")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.MaxConversationTokens < c.MaxTokens {
		return fmt.Errorf("max_conversation_tokens (%d) is smaller than max_tokens (%d)", c.MaxConversationTokens, c.MaxTokens)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %g", c.Temperature)
	}
	if c.MaxRoundTrips <= 0 {
		return fmt.Errorf("max_round_trips must be positive, got %d", c.MaxRoundTrips)
	}

	validLevel := false
	for _, l := range ValidLogLevels {
		if c.Logging.Level == l {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("invalid logging level: %s (valid: %v)", c.Logging.Level, ValidLogLevels)
	}

	seen := map[string]bool{}
	for i, p := range c.Profiles {
		if p.ID == "" {
			return fmt.Errorf("profiles[%d] has no id", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("profile %s is defined twice", p.ID)
		}
		seen[p.ID] = true
		switch p.Provider {
		case unifiedllm.KindOpenRouter, unifiedllm.KindLMStudio, unifiedllm.KindGemini, unifiedllm.KindGollm:
		default:
			return fmt.Errorf("profile %s: invalid provider %q", p.ID, p.Provider)
		}
	}
	return nil
}

func (c *Config) endpoint(kind string) EndpointConfig {
	switch kind {
	case unifiedllm.KindOpenRouter:
		return c.Providers.OpenRouter
	case unifiedllm.KindLMStudio:
		return c.Providers.LMStudio
	case unifiedllm.KindGemini:
		return c.Providers.Gemini
	case unifiedllm.KindGollm:
		return c.Providers.Gollm
	}
	return EndpointConfig{}
}

// ProfileSet assembles the catalog with the configured endpoints, followed
// by the profiles of the config file. A file profile without its own
// endpoint inherits its provider's.
func (c *Config) ProfileSet() *agentloop.ProfileSet {
	ps := agentloop.NewProfileSet()
	for _, m := range unifiedllm.Models {
		ep := c.endpoint(m.Provider)
		ps.Put(agentloop.ProfileFromModelInfo(m, ep.BaseURL, ep.APIKey))
	}
	for _, p := range c.Profiles {
		ep := c.endpoint(p.Provider)
		if p.BaseURL == "" {
			p.BaseURL = ep.BaseURL
		}
		if p.APIKey == "" {
			p.APIKey = ep.APIKey
		}
		if p.Model == "" {
			p.Model = p.ID
		}
		ps.Put(p)
	}
	return ps
}

// SessionConfig maps the settings onto a session configuration rooted at
// workingDir.
func (c *Config) SessionConfig(workingDir string) agentloop.SessionConfig {
	sc := agentloop.DefaultSessionConfig()
	sc.Model = c.Model
	sc.MaxTokens = c.MaxTokens
	sc.MaxConversationTokens = c.MaxConversationTokens
	sc.Temperature = c.Temperature
	sc.MaxRoundTrips = c.MaxRoundTrips
	sc.ParallelDispatch = c.ParallelDispatch
	sc.LoopDetection = c.LoopDetection
	sc.RequestTimeout = c.GetRequestTimeout()
	sc.WorkingDirectory = workingDir
	return sc
}

// PluginDir resolves the plugin directory against workingDir.
func (c *Config) PluginDir(workingDir string) string {
	return resolve(workingDir, c.Tools.PluginDir, "plugins")
}

// PluginGOPATH resolves the dependency tree of the plugin directory.
func (c *Config) PluginGOPATH(workingDir string) string {
	if c.Tools.PluginGOPATH == "" {
		return filepath.Join(c.PluginDir(workingDir), ".gopath")
	}
	return resolve(workingDir, c.Tools.PluginGOPATH, "")
}

func resolve(base, path, fallback string) string {
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// ToolOptions maps the settings onto the built-in capability options. The
// page renderer is left to the caller.
func (c *Config) ToolOptions(workingDir string) tools.Options {
	return tools.Options{
		PluginDir:      c.PluginDir(workingDir),
		PluginGOPATH:   c.PluginGOPATH(workingDir),
		BashTimeout:    c.GetBashTimeout(),
		MaxBashTimeout: c.GetMaxBashTimeout(),
		FetchTimeout:   c.GetFetchTimeout(),
		RenderTimeout:  c.GetRenderTimeout(),
		InstallTimeout: c.GetInstallTimeout(),
		WeatherAPIKey:  c.Tools.WeatherAPIKey,
		WeatherBaseURL: c.Tools.WeatherBaseURL,
	}
}
