package persona

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrDuplicateName  = errors.New("persona name already exists")
	ErrBuiltinPersona = errors.New("built-in personas cannot be modified")
)

// Registry resolves persona names to instructions. Built-ins are shared by
// every user; custom personas are scoped per user identity.
type Registry struct {
	mu       sync.RWMutex
	builtins map[string]Persona
	custom   map[string]map[string]Persona
}

// NewRegistry returns a Registry preloaded with the supplied built-ins.
func NewRegistry(builtins []Persona) *Registry {
	byName := make(map[string]Persona, len(builtins))
	for _, p := range builtins {
		p.Builtin = true
		byName[p.Name] = p
	}
	return &Registry{
		builtins: byName,
		custom:   make(map[string]map[string]Persona),
	}
}

// Resolve returns the instructions for name, falling back to the Default
// persona for unknown names so every generation request carries some
// system instruction.
func (r *Registry) Resolve(userID, name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.builtins[name]; ok {
		return p.Instructions
	}
	if p, ok := r.custom[userID][name]; ok {
		return p.Instructions
	}
	return r.builtins[DefaultName].Instructions
}

// List returns built-ins followed by the user's custom personas, each group
// in stable name order.
func (r *Registry) List(userID string) []Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Persona, 0, len(r.builtins)+len(r.custom[userID]))
	for _, p := range r.builtins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	customs := make([]Persona, 0, len(r.custom[userID]))
	for _, p := range r.custom[userID] {
		customs = append(customs, p)
	}
	sort.Slice(customs, func(i, j int) bool { return customs[i].Name < customs[j].Name })

	return append(out, customs...)
}

// Create registers a custom persona for the user. The name must not collide
// with a built-in or an existing custom persona.
func (r *Registry) Create(userID, name, instructions string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.builtins[name]; ok {
		return ErrDuplicateName
	}
	if _, ok := r.custom[userID][name]; ok {
		return ErrDuplicateName
	}

	if r.custom[userID] == nil {
		r.custom[userID] = make(map[string]Persona)
	}
	r.custom[userID][name] = Persona{Name: name, Instructions: instructions}
	return nil
}

// Update replaces the instructions of an existing custom persona, creating
// it when absent. Built-ins are immutable.
func (r *Registry) Update(userID, name, instructions string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.builtins[name]; ok {
		return ErrBuiltinPersona
	}

	if r.custom[userID] == nil {
		r.custom[userID] = make(map[string]Persona)
	}
	r.custom[userID][name] = Persona{Name: name, Instructions: instructions}
	return nil
}

// Delete removes a custom persona. Deleting an absent persona is a no-op;
// deleting a built-in is rejected.
func (r *Registry) Delete(userID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.builtins[name]; ok {
		return ErrBuiltinPersona
	}
	delete(r.custom[userID], name)
	return nil
}

// ReplaceCustom swaps in the user's custom personas loaded from the durable
// store, typically at sign-in.
func (r *Registry) ReplaceCustom(userID string, personas []Persona) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byName := make(map[string]Persona, len(personas))
	for _, p := range personas {
		if _, ok := r.builtins[p.Name]; ok {
			continue
		}
		p.Builtin = false
		byName[p.Name] = p
	}
	r.custom[userID] = byName
}
