package job

import (
	"fmt"
	"sort"
	"sync"

	jobmanager "github.com/ericzhng/jobmanager"
)

// Factory builds a fresh, uninitialized job. Collaborators the job needs
// (clients, requirement conditions) are captured by the closure.
type Factory func() Job

// Registry maps job names to factories so a runner can rebuild a job from
// its persisted name and bundle. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register binds name to f, replacing any earlier factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New builds a job by name. It fails with jobmanager.ErrJobNotRegistered for
// unknown names, and when the factory builds a job reporting another name.
func (r *Registry) New(name string) (Job, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok || f == nil {
		return nil, fmt.Errorf("%w: %q", jobmanager.ErrJobNotRegistered, name)
	}
	j := f()
	if j == nil {
		return nil, fmt.Errorf("%w: factory for %q returned nil", jobmanager.ErrJobNotRegistered, name)
	}
	if got := j.Name(); got != name {
		return nil, fmt.Errorf("%w: factory for %q built job %q", jobmanager.ErrJobNotRegistered, name, got)
	}
	return j, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns all registered job names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
