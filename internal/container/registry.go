package container

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the container registrations a process can fulfill
type Registry struct {
	mu            sync.RWMutex
	registrations map[string]Registration
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{registrations: make(map[string]Registration)}
}

// Register adds reg, refusing duplicate names
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" {
		return fmt.Errorf("registration name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.registrations[reg.Name]; exists {
		return fmt.Errorf("container registration %q already registered", reg.Name)
	}
	r.registrations[reg.Name] = reg
	return nil
}

// Get returns the named registration
func (r *Registry) Get(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.registrations[name]
	return reg, ok
}

// Names returns the registered names in order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.registrations))
	for name := range r.registrations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
