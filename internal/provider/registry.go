package provider

import (
	"fmt"
	"sort"
	"strings"
)

// Registry holds the configured clients keyed by name.
type Registry struct {
	clients     map[string]Client
	defaultName string
}

// NewRegistry builds a registry. defaultName must be one of the clients.
func NewRegistry(defaultName string, clients ...Client) (*Registry, error) {
	r := &Registry{
		clients:     make(map[string]Client, len(clients)),
		defaultName: strings.ToLower(strings.TrimSpace(defaultName)),
	}
	for _, c := range clients {
		if c == nil {
			continue
		}
		name := strings.ToLower(c.Name())
		if _, dup := r.clients[name]; dup {
			return nil, fmt.Errorf("%w: provider %q registered twice", ErrInvalidConfig, name)
		}
		r.clients[name] = c
	}
	if _, ok := r.clients[r.defaultName]; !ok {
		return nil, fmt.Errorf("%w: default provider %q is not configured", ErrInvalidConfig, defaultName)
	}
	return r, nil
}

// Get returns the client registered as name, falling back to the default
// client for unknown or empty names.
func (r *Registry) Get(name string) Client {
	if c, ok := r.clients[strings.ToLower(strings.TrimSpace(name))]; ok {
		return c
	}
	return r.clients[r.defaultName]
}

// Default returns the default client.
func (r *Registry) Default() Client {
	return r.clients[r.defaultName]
}

// Names lists the registered provider names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
