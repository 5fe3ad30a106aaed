package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type ProviderFactory func(ctx context.Context, model string) (Provider, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func (r *Registry) Register(name string, f ProviderFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
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

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Settings carries the connection details of every built-in provider.
type Settings struct {
	OllamaBaseURL string
	OllamaModel   string

	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterSiteURL string
	OpenRouterAppName string

	LlamaBaseURL string
	LlamaAPIKey  string
	LlamaModel   string
}

// RegisterDefaults registers ollama, openrouter and llama. An empty model
// passed to Get falls back to the configured one.
func RegisterDefaults(r *Registry, s Settings) {
	r.Register("ollama", func(_ context.Context, model string) (Provider, error) {
		return NewOllamaProvider(s.OllamaBaseURL, pick(model, s.OllamaModel)), nil
	})
	r.Register("openrouter", func(_ context.Context, model string) (Provider, error) {
		return NewOpenRouterProvider(s.OpenRouterBaseURL, s.OpenRouterAPIKey, pick(model, s.OpenRouterModel),
			s.OpenRouterSiteURL, s.OpenRouterAppName), nil
	})
	r.Register("llama", func(_ context.Context, model string) (Provider, error) {
		return NewLlamaProvider(s.LlamaBaseURL, s.LlamaAPIKey, pick(model, s.LlamaModel)), nil
	})
}

func pick(v, fallback string) string {
	if m := strings.TrimSpace(v); m != "" {
		return m
	}
	return fallback
}
