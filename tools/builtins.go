// Package tools provides the built-in capabilities of a coderoute session
// and the local environment they run in.
//
// Every capability is registered through Builtins as an agentloop.Factory,
// so a capability that cannot be constructed (for example weathertool
// without an API key) is reported by the registry instead of aborting
// startup.
package tools

import (
	"net/http"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/martinemde/coderoute/agentloop"
)

// Options configures the built-in capabilities. Zero values select the
// defaults.
type Options struct {
	// PluginDir is where toolcreator writes new capability modules.
	PluginDir string
	// PluginGOPATH is where gopackagetool installs package sources.
	PluginGOPATH string
	// TodoFile is the journal of todowritetool. The default is
	// .code_route_todos.json in the working directory.
	TodoFile string

	BashTimeout    time.Duration
	MaxBashTimeout time.Duration
	FetchTimeout   time.Duration
	// RenderTimeout bounds one render_js page load.
	RenderTimeout  time.Duration
	InstallTimeout time.Duration

	HTTPClient     *http.Client
	Renderer       PageRenderer
	WeatherAPIKey  string
	WeatherBaseURL string

	Logger *zap.Logger
}

const (
	defaultBashTimeout    = 120 * time.Second
	defaultMaxBashTimeout = 600 * time.Second
	defaultFetchTimeout   = 10 * time.Second
	defaultRenderTimeout  = 30 * time.Second
	defaultInstallTimeout = 5 * time.Minute
)

func (o Options) withDefaults(env Environment) Options {
	if o.BashTimeout <= 0 {
		o.BashTimeout = defaultBashTimeout
	}
	if o.MaxBashTimeout <= 0 {
		o.MaxBashTimeout = defaultMaxBashTimeout
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = defaultFetchTimeout
	}
	if o.RenderTimeout <= 0 {
		o.RenderTimeout = defaultRenderTimeout
	}
	if o.InstallTimeout <= 0 {
		o.InstallTimeout = defaultInstallTimeout
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.FetchTimeout}
	}
	if o.PluginDir == "" {
		o.PluginDir = filepath.Join(env.WorkingDirectory(), "plugins")
	}
	if o.PluginGOPATH == "" {
		o.PluginGOPATH = filepath.Join(o.PluginDir, ".gopath")
	}
	if o.TodoFile == "" {
		o.TodoFile = filepath.Join(env.WorkingDirectory(), TodoFileName)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Builtins returns the registration table of the built-in capabilities.
func Builtins(env Environment, opts Options) []agentloop.Factory {
	opts = opts.withDefaults(env)
	static := func(c agentloop.Capability) func() (agentloop.Capability, error) {
		return func() (agentloop.Capability, error) { return c, nil }
	}
	return []agentloop.Factory{
		{Module: "globtool", New: static(Glob(env))},
		{Module: "greptool", New: static(Grep(env))},
		{Module: "bashtool", New: static(Bash(env, opts.BashTimeout, opts.MaxBashTimeout))},
		{Module: "lstool", New: static(List(env))},
		{Module: "createfolderstool", New: static(CreateFolders(env))},
		{Module: "filecontentreadertool", New: static(FileReader(env))},
		{Module: "filecreatortool", New: static(FileCreator(env))},
		{Module: "fileedittool", New: static(FileEdit(env))},
		{Module: "multiedittool", New: static(MultiEdit(env))},
		{Module: "diffeditortool", New: static(DiffEditor(env))},
		{Module: "notebookreadtool", New: static(NotebookRead(env))},
		{Module: "notebookedittool", New: static(NotebookEdit(env))},
		{Module: "todowritetool", New: func() (agentloop.Capability, error) {
			todo, err := NewTodoWriter(opts.TodoFile)
			if err != nil {
				return nil, err
			}
			return todo, nil
		}},
		{Module: "agenttool", New: static(Agent())},
		{Module: "webscrapertool", New: static(WebScraper(opts.HTTPClient, opts.Renderer, opts.RenderTimeout))},
		{Module: "weathertool", New: func() (agentloop.Capability, error) {
			return NewWeather(opts.HTTPClient, opts.WeatherAPIKey, opts.WeatherBaseURL)
		}},
		{Module: "toolcreator", New: static(ToolCreator(env, opts.PluginDir))},
		{Module: "gopackagetool", New: static(GoPackage(NewInstaller(env, opts.PluginGOPATH, opts.InstallTimeout, opts.Logger)))},
	}
}

// Source wraps Builtins as a registry source.
func Source(env Environment, opts Options) *agentloop.BuiltinSource {
	return agentloop.NewBuiltinSource(Builtins(env, opts)...)
}

func object(required []string, props map[string]any) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

func enumProp(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}

func arrayProp(desc string, items map[string]any) map[string]any {
	return map[string]any{"type": "array", "description": desc, "items": items}
}
