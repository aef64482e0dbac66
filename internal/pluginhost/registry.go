package pluginhost

import "sync"

// Registry holds the ordered chain of loaded plugin handles. Registration
// order defines evaluation order; mutation requires exclusive access but
// dispatch (Snapshot) may proceed concurrently with registration by taking a
// stable copy of the slice.
type Registry struct {
	mu       sync.RWMutex
	handles  []*Handle
	sourceOf []string // human-readable origin, for introspection/logging
}

// NewRegistry returns an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Append adds a newly loaded handle to the end of the chain.
func (r *Registry) Append(h *Handle, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles = append(r.handles, h)
	r.sourceOf = append(r.sourceOf, source)
}

// Snapshot returns the current chain in registration order. The returned
// slice is owned by the caller; mutating it does not affect the registry.
func (r *Registry) Snapshot() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle, len(r.handles))
	copy(out, r.handles)
	return out
}

// Len reports the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
