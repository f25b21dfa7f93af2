package ai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownProvider is returned by Get for names that were never registered.
var ErrUnknownProvider = errors.New("unknown ai provider")

type ProviderFactory func(ctx context.Context, model string) (Provider, error)

// Registry resolves generation providers by name, e.g. "ollama" or "openrouter".
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
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return f(ctx, strings.TrimSpace(model))
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Routed is a Provider that looks up its backend in a Registry on every call,
// so a misconfigured provider surfaces as a generation error rather than a startup crash.
type Routed struct {
	Registry *Registry
	Name     string
	Model    string
}

func (p Routed) Chat(ctx context.Context, messages []Message) (string, error) {
	prov, err := p.Registry.Get(ctx, p.Name, p.Model)
	if err != nil {
		return "", err
	}
	return prov.Chat(ctx, messages)
}

func (p Routed) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	prov, err := p.Registry.Get(ctx, p.Name, p.Model)
	if err != nil {
		return failedStream(err)
	}
	return Stream(ctx, prov, messages)
}
