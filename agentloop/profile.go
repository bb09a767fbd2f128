package agentloop

import (
	"fmt"
	"sort"
	"strings"

	"github.com/martinemde/coderoute/unifiedllm"
)

// ModelProfile is a selectable model together with the endpoint and
// credential used to reach it.
type ModelProfile struct {
	ID            string   `json:"id" yaml:"id"`
	DisplayName   string   `json:"display_name" yaml:"display_name"`
	Provider      string   `json:"provider" yaml:"provider"`
	Model         string   `json:"model" yaml:"model"`
	BaseURL       string   `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKey        string   `json:"-" yaml:"-"`
	Backend       string   `json:"backend,omitempty" yaml:"backend,omitempty"`
	ContextWindow int      `json:"context_window,omitempty" yaml:"context_window,omitempty"`
	SupportsTools bool     `json:"supports_tools" yaml:"supports_tools"`
	Aliases       []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// ProfileFromModelInfo builds a profile from a catalog entry.
func ProfileFromModelInfo(m unifiedllm.ModelInfo, baseURL, apiKey string) ModelProfile {
	return ModelProfile{
		ID:            m.ID,
		DisplayName:   m.DisplayName,
		Provider:      m.Provider,
		Model:         m.Model(),
		BaseURL:       baseURL,
		APIKey:        apiKey,
		Backend:       m.Backend,
		ContextWindow: m.ContextWindow,
		SupportsTools: m.SupportsTools,
		Aliases:       append([]string(nil), m.Aliases...),
	}
}

// Display returns the human-readable name, falling back to the id.
func (p ModelProfile) Display() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ID
}

// RequiresCredential reports whether the endpoint needs an API key. Local
// endpoints (LM Studio, Ollama through gollm) do not.
func (p ModelProfile) RequiresCredential() bool {
	switch p.Provider {
	case unifiedllm.KindLMStudio:
		return false
	case unifiedllm.KindGollm:
		return p.Backend != "ollama"
	}
	return true
}

// Validate returns a ConfigurationError when the profile cannot be used.
func (p ModelProfile) Validate() error {
	if p.ID == "" {
		return unifiedllm.NewConfigurationError("model profile has no id")
	}
	if p.RequiresCredential() && p.APIKey == "" {
		return unifiedllm.NewConfigurationError("model '%s' has no credential configured", p.ID)
	}
	return nil
}

// ProfileSet is the table of selectable models, in display order.
type ProfileSet struct {
	profiles []ModelProfile
	index    map[string]int
}

// NewProfileSet builds a set. A later profile with an existing id replaces
// the earlier one in place.
func NewProfileSet(profiles ...ModelProfile) *ProfileSet {
	ps := &ProfileSet{index: map[string]int{}}
	for _, p := range profiles {
		ps.Put(p)
	}
	return ps
}

// Put adds or replaces a profile.
func (ps *ProfileSet) Put(p ModelProfile) {
	if i, ok := ps.index[p.ID]; ok {
		ps.profiles[i] = p
		return
	}
	ps.index[p.ID] = len(ps.profiles)
	ps.profiles = append(ps.profiles, p)
}

// Lookup resolves an id or alias. Matching is case-insensitive.
func (ps *ProfileSet) Lookup(idOrAlias string) (ModelProfile, bool) {
	if i, ok := ps.index[idOrAlias]; ok {
		return ps.profiles[i], true
	}
	for _, p := range ps.profiles {
		if strings.EqualFold(p.ID, idOrAlias) {
			return p, true
		}
		for _, a := range p.Aliases {
			if strings.EqualFold(a, idOrAlias) {
				return p, true
			}
		}
	}
	return ModelProfile{}, false
}

// All returns the profiles in display order.
func (ps *ProfileSet) All() []ModelProfile {
	return append([]ModelProfile(nil), ps.profiles...)
}

// IDs returns the profile ids sorted alphabetically.
func (ps *ProfileSet) IDs() []string {
	ids := make([]string, 0, len(ps.profiles))
	for _, p := range ps.profiles {
		ids = append(ids, p.ID)
	}
	sort.Strings(ids)
	return ids
}

// Render formats the table for the models command, marking current.
func (ps *ProfileSet) Render(current string) string {
	var sb strings.Builder
	sb.WriteString("Available models:\n")
	for _, p := range ps.profiles {
		marker := "  "
		if p.ID == current {
			marker = "* "
		}
		fmt.Fprintf(&sb, "%s%s (%s)", marker, p.ID, p.Display())
		if p.RequiresCredential() && p.APIKey == "" {
			sb.WriteString(" [no credential]")
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
