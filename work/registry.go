package work

import (
	"context"
	"sync"
)

// Behavior is the executable behavior bound to a job kind. It receives the
// effective input of the job and returns its output.
type Behavior func(ctx context.Context, in Data) (Data, error)

// Registry maps job kinds to behaviors.
type Registry struct {
	mu        sync.RWMutex
	behaviors map[Kind]Behavior
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		behaviors: make(map[Kind]Behavior),
	}
}

// Register binds a behavior to the kind, replacing any existing binding.
func (r *Registry) Register(kind Kind, fn Behavior) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.behaviors[kind] = fn
}

// Lookup returns the behavior bound to the kind.
func (r *Registry) Lookup(kind Kind) (Behavior, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.behaviors[kind]
	return fn, ok
}

// Kinds returns the registered kinds.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.behaviors))
	for k := range r.behaviors {
		kinds = append(kinds, k)
	}
	return kinds
}
