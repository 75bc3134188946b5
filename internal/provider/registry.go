package provider

import (
	"fmt"
	"sort"

	"CatalogEnricher/internal/ports"
)

// Registry keeps a mapping from provider names to their invokers.
type Registry struct {
	invokers map[string]ports.Invoker
}

// NewRegistry builds a registry holding the given invokers.
func NewRegistry(invokers ...ports.Invoker) *Registry {
	r := &Registry{invokers: map[string]ports.Invoker{}}
	for _, inv := range invokers {
		r.Register(inv)
	}
	return r
}

// Register adds or replaces an invoker implementation.
func (r *Registry) Register(invoker ports.Invoker) {
	if invoker == nil {
		return
	}
	if r.invokers == nil {
		r.invokers = map[string]ports.Invoker{}
	}
	r.invokers[invoker.Name()] = invoker
}

// Resolve returns an invoker by name or an error if it is absent.
func (r *Registry) Resolve(name string) (ports.Invoker, error) {
	if invoker, ok := r.invokers[name]; ok {
		return invoker, nil
	}
	return nil, fmt.Errorf("inference provider %s is not registered (known: %v)", name, r.Names())
}

// Names lists registered providers in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.invokers))
	for name := range r.invokers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
