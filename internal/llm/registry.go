package llm

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type Registry struct {
	mu        sync.RWMutex
	providers map[string]CompletionProvider
}

func NewRegistry() *Registry {
	return &Registry{providers: map[string]CompletionProvider{}}
}

func (r *Registry) Register(p CompletionProvider) error {
	if p == nil {
		return fmt.Errorf("register provider: provider is nil")
	}
	name := p.Name()
	if name == "" {
		return fmt.Errorf("register provider: name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("register provider: %q already registered", name)
	}
	r.providers[name] = p
	return nil
}

func (r *Registry) Get(name string) (CompletionProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, name)
	}
	return p, nil
}

// configNames maps llm.provider config values to registered provider names.
var configNames = map[string]string{
	"openai":      "GPT",
	"davinci":     "GPT3-Davinci",
	"huggingface": "HuggingFace",
}

// Lookup resolves a provider by its llm.provider config value or by its
// registered name, ignoring case.
func (r *Registry) Lookup(name string) (CompletionProvider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if registered, ok := configNames[key]; ok {
		return r.Get(registered)
	}
	for _, p := range r.All() {
		if strings.EqualFold(p.Name(), key) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoProvider, name)
}

// GetForModality returns every registered provider supporting m, sorted by name.
func (r *Registry) GetForModality(m Modality) []CompletionProvider {
	out := []CompletionProvider{}
	for _, p := range r.All() {
		if HasModality(p, m) {
			out = append(out, p)
		}
	}
	return out
}

func (r *Registry) All() []CompletionProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CompletionProvider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// DefaultRegistry registers every built-in provider. Providers are constructed
// lazily against the network, so a missing API key only fails at call time.
func DefaultRegistry(cfg Config) (*Registry, error) {
	r := NewRegistry()
	for _, p := range []CompletionProvider{
		NewGPTProvider(cfg),
		NewDavinciProvider(cfg),
		NewHuggingFaceProvider(cfg),
	} {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}
