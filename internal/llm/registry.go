package llm

import (
	"fmt"
	"sort"
	"strings"
)

// ProviderName identifies a model backend.
type ProviderName string

const (
	ProviderAnthropic ProviderName = "anthropic"
	ProviderOpenAI    ProviderName = "openai"
	ProviderGemini    ProviderName = "gemini"
)

// DisplayName is the vendor name shown to users.
func (p ProviderName) DisplayName() string {
	switch p {
	case ProviderAnthropic:
		return "Anthropic"
	case ProviderOpenAI:
		return "OpenAI"
	case ProviderGemini:
		return "Google Gemini"
	}
	return string(p)
}

// CredentialKey is the credential store entry holding the provider's key.
func (p ProviderName) CredentialKey() string {
	return string(p) + "_api_key"
}

// ModelEntry maps a user-facing model name to a provider model id.
type ModelEntry struct {
	Name       string       `json:"name"`
	Label      string       `json:"label"`
	Provider   ProviderName `json:"provider"`
	ProviderID string       `json:"providerId"`
}

// DefaultModels is the built-in catalogue.
var DefaultModels = []ModelEntry{
	{Name: "claude-3.5", Label: "Claude 3.5 Sonnet", Provider: ProviderAnthropic, ProviderID: "claude-3-5-sonnet-20240620"},
	{Name: "claude-3-opus", Label: "Claude 3 Opus", Provider: ProviderAnthropic, ProviderID: "claude-3-opus-20240229"},
	{Name: "claude-3-sonnet", Label: "Claude 3 Sonnet", Provider: ProviderAnthropic, ProviderID: "claude-3-sonnet-20240229"},
	{Name: "claude-3-haiku", Label: "Claude 3 Haiku", Provider: ProviderAnthropic, ProviderID: "claude-3-haiku-20240307"},
	{Name: "claude-1.2-instant", Label: "Claude Instant 1.2", Provider: ProviderAnthropic, ProviderID: "claude-instant-1.2"},
	{Name: "gpt-4o", Label: "GPT-4o", Provider: ProviderOpenAI, ProviderID: "gpt-4o"},
	{Name: "gpt-4o-mini", Label: "GPT-4o mini", Provider: ProviderOpenAI, ProviderID: "gpt-4o-mini"},
	{Name: "gemini-1.5-pro", Label: "Gemini 1.5 Pro", Provider: ProviderGemini, ProviderID: "gemini-1.5-pro"},
}

// Registry resolves model names to providers.
type Registry struct {
	models       map[string]ModelEntry
	providers    map[ProviderName]Provider
	defaultModel string
}

// NewRegistry builds a registry over the given providers. Models whose
// provider is not registered are left out.
func NewRegistry(defaultModel string, entries []ModelEntry, providers ...Provider) *Registry {
	r := &Registry{
		models:       make(map[string]ModelEntry),
		providers:    make(map[ProviderName]Provider),
		defaultModel: defaultModel,
	}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	for _, e := range entries {
		if _, ok := r.providers[e.Provider]; ok {
			r.models[e.Name] = e
		}
	}
	return r
}

// DefaultModel is used when a session names none.
func (r *Registry) DefaultModel() string { return r.defaultModel }

// Resolve returns the entry and provider for name; empty selects the default.
func (r *Registry) Resolve(name string) (ModelEntry, Provider, error) {
	if name == "" {
		name = r.defaultModel
	}
	e, ok := r.models[name]
	if !ok {
		return ModelEntry{}, nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return e, r.providers[e.Provider], nil
}

// Provider returns a registered provider by name.
func (r *Registry) Provider(name ProviderName) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Models lists the available models sorted by name.
func (r *Registry) Models() []ModelEntry {
	out := make([]ModelEntry, 0, len(r.models))
	for _, e := range r.models {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DetectProvider guesses the vendor from the shape of an API key.
func DetectProvider(apiKey string) (ProviderName, bool) {
	switch {
	case strings.HasPrefix(apiKey, "sk-ant-"):
		return ProviderAnthropic, true
	case strings.HasPrefix(apiKey, "sk-"):
		return ProviderOpenAI, true
	case strings.HasPrefix(apiKey, "AIza"):
		return ProviderGemini, true
	}
	return "", false
}
