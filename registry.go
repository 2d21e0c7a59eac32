package capflow

import (
	"sort"
	"sync"
)

// Registry is an explicit collection of capability definitions. It is
// a plain value: whatever composes a Dispatcher owns one, and tests
// construct a fresh instance instead of resetting process-wide state.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]*Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]*Definition)}
}

// Register adds a definition. Names are unique; a collision fails
// rather than silently replacing the earlier capability.
func (r *Registry) Register(def *Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caps[def.Name()]; exists {
		return NewDuplicateCapabilityError(def.Name())
	}
	r.caps[def.Name()] = def
	return nil
}

// MustRegister adds definitions and panics on collision. Intended for
// static capability tables assembled at startup.
func (r *Registry) MustRegister(defs ...*Definition) {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
}

// Get looks up a definition by name.
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.caps[name]
	if !ok {
		return nil, NewUnknownCapabilityError(name)
	}
	return def, nil
}

// List returns the registered capability names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Cards returns the introspection catalog, sorted by name.
func (r *Registry) Cards() []Card {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cards := make([]Card, 0, len(r.caps))
	for _, def := range r.caps {
		cards = append(cards, def.Card())
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].Name < cards[j].Name })
	return cards
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.caps)
}
