package model

import (
	"fmt"
	"sort"
)

// Registry holds every registered model. It follows a construct-once,
// freeze, many-readers lifecycle: Register during startup, Freeze before
// serving, lock-free reads afterwards.
type Registry struct {
	byName map[string]*Model
	frozen bool
}

// NewRegistry returns an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Model)}
}

// Register adds a model. Duplicate names and registration after Freeze are
// configuration errors.
func (r *Registry) Register(m *Model) error {
	if r.frozen {
		return fmt.Errorf("model registry is frozen; cannot register %s", m.Name)
	}
	if err := m.Validate(); err != nil {
		return err
	}
	if _, exists := r.byName[m.Name]; exists {
		return fmt.Errorf("model %s is already registered", m.Name)
	}
	r.byName[m.Name] = m
	return nil
}

// Freeze validates cross-model references and marks the registry read-only.
func (r *Registry) Freeze() error {
	for _, m := range r.byName {
		for _, fk := range m.ForeignKeys {
			if _, ok := r.byName[fk.RemoteModel]; !ok {
				return fmt.Errorf("model %s: foreign key %s references unregistered model %s", m.Name, fk.Field, fk.RemoteModel)
			}
		}
		for _, m2m := range m.ManyToMany {
			if _, ok := r.byName[m2m.RemoteModel]; !ok {
				return fmt.Errorf("model %s: many-to-many %s references unregistered model %s", m.Name, m2m.Field, m2m.RemoteModel)
			}
		}
		for _, gr := range m.GenericRelations {
			if _, ok := r.byName[gr.RemoteModel]; !ok {
				return fmt.Errorf("model %s: generic relation %s references unregistered model %s", m.Name, gr.Field, gr.RemoteModel)
			}
		}
	}
	r.frozen = true
	return nil
}

// Frozen reports whether the registry has been frozen.
func (r *Registry) Frozen() bool {
	return r.frozen
}

// Get returns the model registered under name.
func (r *Registry) Get(name string) (*Model, error) {
	m, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("no model registered under name %s", name)
	}
	return m, nil
}

// Names returns all registered model names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
