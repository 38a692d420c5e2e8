package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds named collaborators (cluster services, backends, clients)
// so that factories can resolve them explicitly instead of through globals.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]any)}
}

// Bind stores v under name, replacing any previous binding.
func (r *Registry) Bind(name string, v any) error {
	name = strings.TrimSpace(name)
	if name == "" || v == nil {
		return ErrInvalidBinding
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = v
	return nil
}

// Unbind removes the binding for name, if any.
func (r *Registry) Unbind(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Lookup returns the value bound to name.
func (r *Registry) Lookup(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[name]
	return v, ok
}

// Names returns the bound names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for k := range r.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// FindByType returns every binding assignable to T, keyed by name.
func FindByType[T any](r *Registry) map[string]T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]T)
	for k, v := range r.entries {
		if t, ok := v.(T); ok {
			out[k] = t
		}
	}
	return out
}

// FindSingleByType returns the only binding assignable to T.
// It fails with ErrNotFound when there is none and ErrAmbiguous when there
// are several.
func FindSingleByType[T any](r *Registry) (T, error) {
	var zero T
	found := FindByType[T](r)
	switch len(found) {
	case 0:
		return zero, ErrNotFound
	case 1:
		for _, v := range found {
			return v, nil
		}
	}
	names := make([]string, 0, len(found))
	for k := range found {
		names = append(names, k)
	}
	sort.Strings(names)
	return zero, fmt.Errorf("%w: %s", ErrAmbiguous, strings.Join(names, ","))
}

// LookupByNameAndType returns the value bound to name when it is a T.
func LookupByNameAndType[T any](r *Registry, name string) (T, error) {
	var zero T
	v, ok := r.Lookup(name)
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %q has type %T", ErrNotFound, name, v)
	}
	return t, nil
}
