package provider

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownProvider is returned by Resolve for a name that was never registered.
var ErrUnknownProvider = errors.New("provider: unknown provider")

// Registry resolves provider names to providers.
type Registry interface {
	Resolve(name string) (Provider, error)
}

// StaticRegistry is a Registry populated once at construction. It is never
// mutated afterwards, so lookups need no locking.
type StaticRegistry struct {
	byName map[string]Provider
}

// NewRegistry indexes providers by name. Empty and duplicate names are rejected.
func NewRegistry(providers ...Provider) (*StaticRegistry, error) {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("provider: nil provider")
		}
		name := p.Name()
		if name == "" {
			return nil, fmt.Errorf("provider: empty provider name")
		}
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("provider: duplicate provider %q", name)
		}
		byName[name] = p
	}
	return &StaticRegistry{byName: byName}, nil
}

func (r *StaticRegistry) Resolve(name string) (Provider, error) {
	p, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns all registered names in sorted order.
func (r *StaticRegistry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Providers returns all registered providers ordered by name.
func (r *StaticRegistry) Providers() []Provider {
	names := r.Names()
	out := make([]Provider, len(names))
	for i, n := range names {
		out[i] = r.byName[n]
	}
	return out
}
