// Package persona describes the named AI behavior profiles a user can talk
// to. Capability flags drive the dispatcher's transport selection; nothing
// here is mutable at runtime.
package persona

import (
	"fmt"
	"sort"
	"sync"
)

// Character is one persona with its capability flags.
type Character struct {
	Name string `yaml:"name"`

	// ToolEnabled personas stream tool/reasoning/text events over the
	// persistent channel's agentic sub-protocol.
	ToolEnabled bool `yaml:"tool_enabled"`

	// AutoRespond is false for personas that only persist the user's
	// message and never produce an assistant reply.
	AutoRespond bool `yaml:"auto_respond"`

	// ChannelPreferred forces the persistent channel even for plain text.
	ChannelPreferred bool `yaml:"channel_preferred"`

	// UIHint is an opaque presentation tag the engine passes through.
	UIHint string `yaml:"ui_hint,omitempty"`
}

// Registry is an immutable catalog of characters keyed by name.
type Registry struct {
	mu         sync.RWMutex
	characters map[string]Character
	fallback   string
}

// NewRegistry builds a registry. The first character is the default
// persona used when a lookup fails.
func NewRegistry(characters []Character) (*Registry, error) {
	if len(characters) == 0 {
		return nil, fmt.Errorf("at least one persona is required")
	}
	byName := make(map[string]Character, len(characters))
	for _, c := range characters {
		if c.Name == "" {
			return nil, fmt.Errorf("persona with empty name")
		}
		if _, dup := byName[c.Name]; dup {
			return nil, fmt.Errorf("duplicate persona %q", c.Name)
		}
		byName[c.Name] = c
	}
	return &Registry{characters: byName, fallback: characters[0].Name}, nil
}

// Get returns the named character, or the default persona when unknown.
func (r *Registry) Get(name string) Character {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.characters[name]; ok {
		return c
	}
	return r.characters[r.fallback]
}

// Has reports whether the persona exists.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.characters[name]
	return ok
}

// Names lists all persona names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.characters))
	for name := range r.characters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns the fallback persona.
func (r *Registry) Default() Character {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.characters[r.fallback]
}
