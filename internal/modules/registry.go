package modules

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Registry holds the registered diagnostic modules, keyed by declared name.
type Registry struct {
	byName map[string]Module
	logger *zap.Logger
}

// NewRegistry creates an empty registry with the given logger.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		byName: make(map[string]Module),
		logger: logger,
	}
}

// Register adds a module. Duplicate names are rejected since the name is the
// dispatch key.
func (r *Registry) Register(m Module) error {
	name := m.Name()
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("module %q already registered", name)
	}
	r.byName[name] = m
	r.logger.Debug("Registered module", zap.String("name", name))
	return nil
}

// Get returns the module registered under name.
func (r *Registry) Get(name string) (Module, bool) {
	m, ok := r.byName[name]
	return m, ok
}

// All returns the registered modules sorted by name.
func (r *Registry) All() []Module {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Module, 0, len(names))
	for _, name := range names {
		out = append(out, r.byName[name])
	}
	return out
}
