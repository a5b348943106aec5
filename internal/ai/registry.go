package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ProviderFactory binds a provider to a model name.
type ProviderFactory func(ctx context.Context, model string) (Provider, error)

// Registry routes a (provider, model) pair to a bound Provider.
// The first registered provider is the default unless SetDefault says otherwise.
type Registry struct {
	mu          sync.RWMutex
	factories   map[string]ProviderFactory
	defaultName string
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultName = strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) Register(name string, f ProviderFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
	if r.defaultName == "" {
		r.defaultName = name
	}
}

func (r *Registry) Get(ctx context.Context, name string, model string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s", name)
	}
	return f(ctx, model)
}

// ForModel binds the default provider to model.
func (r *Registry) ForModel(ctx context.Context, model string) (Provider, error) {
	r.mu.RLock()
	name := r.defaultName
	r.mu.RUnlock()
	if name == "" {
		return nil, fmt.Errorf("no ai provider registered")
	}
	return r.Get(ctx, name, model)
}

// Settings configures the built-in providers.
type Settings struct {
	Default           string
	OllamaBaseURL     string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterSiteURL string
	OpenRouterAppName string
}

// NewStandardRegistry registers the OpenRouter and Ollama providers and
// selects s.Default.
func NewStandardRegistry(s Settings) *Registry {
	reg := NewRegistry()
	reg.Register("openrouter", func(ctx context.Context, model string) (Provider, error) {
		_ = ctx
		return NewOpenRouterProvider(s.OpenRouterBaseURL, s.OpenRouterAPIKey, model, s.OpenRouterSiteURL, s.OpenRouterAppName), nil
	})
	reg.Register("ollama", func(ctx context.Context, model string) (Provider, error) {
		_ = ctx
		return NewOllamaProvider(s.OllamaBaseURL, model), nil
	})
	if s.Default != "" {
		reg.SetDefault(s.Default)
	}
	return reg
}
