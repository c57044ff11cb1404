package crawler

import (
	"sort"
	"sync"

	"github.com/rotisserie/eris"
)

// ProviderFactory constructs a fresh Provider for one run.
type ProviderFactory func() Provider

// Registry maps provider tags to constructors.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

// Register adds or replaces a provider constructor.
func (r *Registry) Register(tag string, factory ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[tag] = factory
}

// New builds the provider registered under tag.
func (r *Registry) New(tag string) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, eris.Wrapf(ErrUnknownProvider, "tag %q", tag)
	}
	return factory(), nil
}

// Tags lists registered provider tags in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for tag := range r.factories {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
