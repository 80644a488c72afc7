package tunnel

import (
	"fmt"
	"sort"
	"sync"

	"tunnelctl/pkg/logging"
)

// Registry maps owner keys to the tunnels launched on their behalf. Keys are
// opaque. All methods are safe for concurrent use and never perform I/O on
// the tunnels they hold.
type Registry struct {
	mu      sync.Mutex
	tunnels map[string][]Tunnel
	owners  map[string]string // tunnel ID -> key
}

func NewRegistry() *Registry {
	return &Registry{
		tunnels: make(map[string][]Tunnel),
		owners:  make(map[string]string),
	}
}

// Add appends t to key's set, creating the set if needed. Adding the same
// tunnel under the same key twice is a no-op; adding it under a different key
// returns ErrAlreadyRegistered.
func (r *Registry) Add(key string, t Tunnel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.owners[t.ID()]; ok {
		if owner == key {
			return nil
		}
		return fmt.Errorf("%w: tunnel %s belongs to %q", ErrAlreadyRegistered, t.ID(), owner)
	}

	r.tunnels[key] = append(r.tunnels[key], t)
	r.owners[t.ID()] = key
	logging.Debug("Registry", "Added tunnel %s under %q (%d total)", t.ID(), key, len(r.tunnels[key]))
	return nil
}

// RemoveAll detaches and returns every tunnel under key in insertion order.
// The caller is responsible for closing them.
func (r *Registry) RemoveAll(key string) []Tunnel {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.tunnels[key]
	if !ok {
		return nil
	}
	delete(r.tunnels, key)
	for _, t := range set {
		delete(r.owners, t.ID())
	}
	return set
}

// Get returns a copy of the tunnels registered under key.
func (r *Registry) Get(key string) []Tunnel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Tunnel(nil), r.tunnels[key]...)
}

// Snapshot returns a copy of the whole mapping. Mutating it does not affect
// the registry.
func (r *Registry) Snapshot() map[string][]Tunnel {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string][]Tunnel, len(r.tunnels))
	for k, set := range r.tunnels {
		out[k] = append([]Tunnel(nil), set...)
	}
	return out
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.tunnels))
	for k := range r.tunnels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of registered tunnels across all keys.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.owners)
}
